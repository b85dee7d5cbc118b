package ledger

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"api_marketplace/internal/market"
)

type csvRow struct {
	ID        string `csv:"transaction_id"`
	ProductID string `csv:"product_id"`
	SellerID  string `csv:"seller_id"`
	Price     string `csv:"price"`
	Status    string `csv:"status"`
	Reason    string `csv:"reason"`
	CreatedAt string `csv:"created_at"`
}

// WriteCSV writes txns as CSV with a header row.
func WriteCSV(w io.Writer, txns []market.Transaction) error {
	rows := make([]*csvRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, &csvRow{
			ID:        t.ID,
			ProductID: t.ProductID,
			SellerID:  t.SellerID,
			Price:     t.Price.StringFixed(2),
			Status:    t.Status.String(),
			Reason:    t.Reason,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write purchase history csv: %w", err)
	}
	return nil
}
