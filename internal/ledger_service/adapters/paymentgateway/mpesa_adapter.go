package paymentgateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// Daraja answers a status query with this code while the customer has not responded yet.
	codeStillProcessing = "500.001.1001"

	tokenRefreshMargin = time.Minute
	maxResponseBytes   = 1 << 20
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
	CallbackURL    string
}

// MpesaAdapter talks to the Safaricom Daraja STK push API.
type MpesaAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	cfg        MpesaConfig
	clock      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ domain.PaymentGatewayAdapter = (*MpesaAdapter)(nil)

func NewMpesaAdapter(logger *slog.Logger, cfg MpesaConfig, httpClient *http.Client) *MpesaAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &MpesaAdapter{
		logger:     logger.With("adapter", "mpesa"),
		httpClient: httpClient,
		cfg:        cfg,
		clock:      time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// darajaError is the error body Daraja returns with non-2xx responses.
type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e *darajaError) Error() string {
	if e.ErrorCode == "" {
		return e.ErrorMessage
	}
	return e.ErrorCode + ": " + e.ErrorMessage
}

func (a *MpesaAdapter) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResponse, error) {
	timestamp, password := a.credentials()
	desc := req.Description
	if desc == "" {
		desc = "Savings deposit"
	}
	body := stkPushRequest{
		BusinessShortCode: a.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            a.cfg.Shortcode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       a.cfg.CallbackURL,
		AccountReference:  truncate(req.AccountReference, 12),
		TransactionDesc:   truncate(desc, 13),
	}

	var resp stkPushResponse
	if err := a.call(ctx, "stk_push", stkPath, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &domain.GatewayError{
			Op:         "stk_push",
			Definitive: true,
			Err:        fmt.Errorf("request rejected with code %q: %s", resp.ResponseCode, resp.ResponseDescription),
		}
	}
	a.logger.InfoContext(ctx, "STK push accepted",
		"transaction_id", req.TransactionID, "checkout_request_id", resp.CheckoutRequestID, "merchant_request_id", resp.MerchantRequestID)
	return &domain.InitiateResponse{CorrelationID: resp.CheckoutRequestID, CustomerMessage: resp.CustomerMessage}, nil
}

func (a *MpesaAdapter) QueryStatus(ctx context.Context, correlationID string) (*domain.PaymentStatus, error) {
	timestamp, password := a.credentials()
	body := stkQueryRequest{
		BusinessShortCode: a.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: correlationID,
	}

	var resp stkQueryResponse
	if err := a.call(ctx, "stk_query", queryPath, body, &resp); err != nil {
		var de *darajaError
		if errors.As(err, &de) && de.ErrorCode == codeStillProcessing {
			return &domain.PaymentStatus{Outcome: domain.PaymentPending, Description: de.ErrorMessage}, nil
		}
		return nil, err
	}
	return resultStatus(resp.ResultCode, resp.ResultDesc), nil
}

// ParseCallback decodes the stkCallback body Daraja posts to CallBackURL.
func (a *MpesaAdapter) ParseCallback(ctx context.Context, payload []byte) (*domain.CallbackEvent, error) {
	evt, err := parseCallback(payload)
	if err != nil {
		a.logger.WarnContext(ctx, "Unparseable M-Pesa callback", "error", err, "payload_len", len(payload))
		return nil, err
	}
	return evt, nil
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

func parseCallback(payload []byte) (*domain.CallbackEvent, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding callback: %w", err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, errors.New("callback has no CheckoutRequestID")
	}
	code, err := rawCode(cb.ResultCode)
	if err != nil {
		return nil, err
	}

	status := resultStatus(code, cb.ResultDesc)
	if status.Outcome == domain.PaymentSuccess {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if err := status.ConfirmedAmount.UnmarshalJSON(item.Value); err != nil {
					return nil, fmt.Errorf("decoding callback amount: %w", err)
				}
			case "MpesaReceiptNumber":
				if err := json.Unmarshal(item.Value, &status.Receipt); err != nil {
					return nil, fmt.Errorf("decoding receipt number: %w", err)
				}
			}
		}
	}
	return &domain.CallbackEvent{CorrelationID: cb.CheckoutRequestID, Status: *status}, nil
}

// rawCode accepts ResultCode as either a JSON number or a string.
func rawCode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("callback has no ResultCode")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid ResultCode %s", raw)
	}
	return strconv.FormatInt(n, 10), nil
}

func resultStatus(code, desc string) *domain.PaymentStatus {
	if code == "0" {
		return &domain.PaymentStatus{Outcome: domain.PaymentSuccess, ConfirmedAmount: decimal.Zero, Description: desc}
	}
	if desc == "" {
		desc = "payment failed with result code " + code
	}
	return &domain.PaymentStatus{Outcome: domain.PaymentFailed, ConfirmedAmount: decimal.Zero, Description: desc}
}

// credentials returns the request timestamp and the base64 shortcode+passkey+timestamp password.
func (a *MpesaAdapter) credentials() (string, string) {
	ts := a.clock().In(eat).Format("20060102150405")
	return ts, base64.StdEncoding.EncodeToString([]byte(a.cfg.Shortcode + a.cfg.Passkey + ts))
}

func (a *MpesaAdapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.clock().Before(a.tokenExpiry) {
		return a.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ConsumerKey, a.cfg.ConsumerSecret)

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := a.do(req, "oauth", &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", &domain.GatewayError{Op: "oauth", Err: errors.New("empty access token")}
	}
	ttl, err := strconv.Atoi(body.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	a.token = body.AccessToken
	a.tokenExpiry = a.clock().Add(time.Duration(ttl)*time.Second - tokenRefreshMargin)
	a.logger.DebugContext(ctx, "Refreshed M-Pesa access token", "expires_at", a.tokenExpiry)
	return a.token, nil
}

func (a *MpesaAdapter) invalidateToken() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *MpesaAdapter) call(ctx context.Context, op, path string, in, out any) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	err = a.do(req, op, out)
	var ge *domain.GatewayError
	if errors.As(err, &ge) && ge.StatusCode == http.StatusUnauthorized {
		a.invalidateToken()
	}
	return err
}

// do sends req and decodes a 2xx body into out. 4xx responses are definitive
// rejections; transport failures and 5xx leave the outcome unknown.
func (a *MpesaAdapter) do(req *http.Request, op string, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.WarnContext(req.Context(), "M-Pesa request failed", "op", op, "error", err)
		return &domain.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	a.logger.DebugContext(req.Context(), "M-Pesa response", "op", op, "status_code", resp.StatusCode, "body", string(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &darajaError{}
		if json.Unmarshal(body, apiErr) != nil || (apiErr.ErrorCode == "" && apiErr.ErrorMessage == "") {
			apiErr.ErrorMessage = http.StatusText(resp.StatusCode)
		}
		return &domain.GatewayError{
			Op:         op,
			Definitive: resp.StatusCode >= 400 && resp.StatusCode < 500,
			StatusCode: resp.StatusCode,
			Err:        apiErr,
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
