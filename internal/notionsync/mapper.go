package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the transactions database.
const (
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropDirection     = "Direction"
	PropCategory      = "Category"
	PropPaymentMethod = "Payment Method"
	PropAccount       = "Account"
	PropCreditCard    = "Credit Card"
	PropAffectsCash   = "Affects Cash"
	PropNotes         = "Notes"
	PropTransactionID = "Transaction ID"
	PropUserID        = "User ID"
	PropCreatedAt     = "Created At"
)

// TransactionToNotionProperties converts a ledger transaction to Notion
// properties. The amount is signed so a Notion sum gives the net flow.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: tx.Description,
					},
				},
			},
		},
		PropDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: dateOf(tx.Date),
			},
		},
		PropAmount: notionapi.NumberProperty{
			Number: func() float64 {
				f, _ := tx.Signed().Float64()
				return f
			}(),
		},
		PropDirection: notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(tx.Direction),
			},
		},
		PropAffectsCash: notionapi.CheckboxProperty{
			Checkbox: tx.AffectsCash,
		},
		PropTransactionID: richText(tx.ID),
		PropUserID:        richText(tx.UserID),
		PropCreatedAt: notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: (*notionapi.Date)(&tx.CreatedAt),
			},
		},
	}

	if tx.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: tx.Category,
			},
		}
	}

	if tx.PaymentMethod != "" {
		props[PropPaymentMethod] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: tx.PaymentMethod,
			},
		}
	}

	if tx.AccountID != nil {
		props[PropAccount] = richText(*tx.AccountID)
	}
	if tx.CreditCardID != nil {
		props[PropCreditCard] = richText(*tx.CreditCardID)
	}
	if tx.Notes != nil {
		props[PropNotes] = richText(*tx.Notes)
	}

	return props
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: s,
				},
			},
		},
	}
}

func dateOf(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
