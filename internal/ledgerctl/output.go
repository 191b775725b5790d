package ledgerctl

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// transactionView is the operator-facing row for a transaction.
type transactionView struct {
	ID            string    `json:"id" yaml:"id"`
	GoalID        string    `json:"goal_id" yaml:"goal_id"`
	Type          string    `json:"type" yaml:"type"`
	Method        string    `json:"method" yaml:"method"`
	Status        string    `json:"status" yaml:"status"`
	Amount        string    `json:"amount" yaml:"amount"`
	Reference     string    `json:"reference,omitempty" yaml:"reference,omitempty"`
	PhoneNumber   string    `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Age           string    `json:"age" yaml:"age"`
}

func toViews(txns []*domain.Transaction, now time.Time) []transactionView {
	out := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionView{
			ID:            t.ID.String(),
			GoalID:        t.GoalID.String(),
			Type:          string(t.Type),
			Method:        string(t.Method),
			Status:        string(t.Status),
			Amount:        t.Amount.StringFixed(2),
			Reference:     t.Reference,
			PhoneNumber:   t.PhoneNumber,
			FailureReason: t.FailureReason,
			CreatedAt:     t.CreatedAt,
			Age:           now.Sub(t.CreatedAt).Truncate(time.Second).String(),
		})
	}
	return out
}

func render(w io.Writer, format string, rows []transactionView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tAMOUNT\tREFERENCE\tAGE\tREASON")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Amount, r.Reference, r.Age, r.FailureReason)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
