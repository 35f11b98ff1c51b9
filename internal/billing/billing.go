// Package billing is a small consumer of the sync engine: students and their
// invoices live in two collections, and a payment updates both with two
// independent writes.
package billing

import (
	"fmt"
	"sort"

	"github.com/devrev/pairdb/docsync/internal/engine"
)

// Collection keys
const (
	StudentsKey = "students"
	InvoicesKey = "invoices"
)

// Invoice statuses
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// Student is one entry of the students collection. A negative balance is
// money owed.
type Student struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Balance int64  `json:"balance"`
}

// Invoice is one entry of the invoices collection
type Invoice struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Period    string `json:"period"` // YYYY-MM
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Receipt describes what a payment did
type Receipt struct {
	StudentID string
	Amount    int64
	Balance   int64
	Paid      []string // Periods settled by this payment
}

// ApplyPayment credits amount to the student and settles pending invoices
// oldest period first while the payment covers them in full. The students
// and invoices collections are written separately; there is no atomicity
// across the two.
func ApplyPayment(e *engine.Engine, studentID string, amount int64) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %d", amount)
	}

	students := engine.Get(e, StudentsKey, []Student{})
	idx := -1
	for i := range students {
		if students[i].ID == studentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("student %q not found", studentID)
	}

	invoices := engine.Get(e, InvoicesKey, []Invoice{})
	pending := make([]int, 0, len(invoices))
	for i, inv := range invoices {
		if inv.StudentID == studentID && inv.Status == StatusPending {
			pending = append(pending, i)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return invoices[pending[a]].Period < invoices[pending[b]].Period
	})

	receipt := &Receipt{StudentID: studentID, Amount: amount}
	remaining := amount
	for _, i := range pending {
		if invoices[i].Amount > remaining {
			break
		}
		remaining -= invoices[i].Amount
		invoices[i].Status = StatusPaid
		receipt.Paid = append(receipt.Paid, invoices[i].Period)
	}

	students[idx].Balance += amount
	receipt.Balance = students[idx].Balance

	if err := engine.Set(e, StudentsKey, students); err != nil {
		return nil, err
	}
	if len(receipt.Paid) > 0 {
		if err := engine.Set(e, InvoicesKey, invoices); err != nil {
			return nil, err
		}
	}

	return receipt, nil
}

// Outstanding returns the student's pending invoices, oldest first
func Outstanding(e *engine.Engine, studentID string) []Invoice {
	var out []Invoice
	for _, inv := range engine.Get(e, InvoicesKey, []Invoice{}) {
		if inv.StudentID == studentID && inv.Status == StatusPending {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Period < out[b].Period })
	return out
}
