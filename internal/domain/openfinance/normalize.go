package openfinance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/transaction"
	ofclient "koffers/internal/infrastructure/openfinance"
)

var errMalformed = errors.New("malformed provider record")

// Places in the raw provider record that may name the merchant when the
// top-level merchant_name is empty.
var merchantPaths = []string{
	"$.counterparties[0].name",
	"$.merchant.name",
	"$.payment_meta.payee",
}

// normalizeTransaction maps a provider record to the canonical upsert shape.
// Returned errors wrap errMalformed.
func normalizeTransaction(conn *connection.Connection, acct *account.Account, tx *ofclient.Transaction) (transaction.UpsertParams, error) {
	if strings.TrimSpace(tx.TransactionID) == "" {
		return transaction.UpsertParams{}, fmt.Errorf("%w: missing transaction_id", errMalformed)
	}
	if tx.Amount == nil {
		return transaction.UpsertParams{}, fmt.Errorf("%w: missing amount", errMalformed)
	}
	date, err := tx.GetDate()
	if err != nil {
		return transaction.UpsertParams{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	authorized, err := tx.GetAuthorizedDate()
	if err != nil {
		return transaction.UpsertParams{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	currency := strings.ToUpper(tx.ISOCurrencyCode)
	if currency == "" {
		currency = acct.Currency
	}

	var primary string
	if tx.PersonalFinanceCategory != nil {
		primary = tx.PersonalFinanceCategory.Primary
	}

	merchant := strings.TrimSpace(tx.MerchantName)
	if merchant == "" {
		merchant = merchantFromRaw(tx.Raw)
	}

	raw := tx.Raw
	if len(raw) == 0 {
		// Records built in memory (tests, replays) have no captured bytes.
		if raw, err = json.Marshal(tx); err != nil {
			return transaction.UpsertParams{}, fmt.Errorf("%w: %v", errMalformed, err)
		}
	}

	return transaction.UpsertParams{
		UserID:            conn.UserID,
		AccountID:         acct.ID,
		ConnectionID:      conn.ID,
		ExternalID:        tx.TransactionID,
		Amount:            *tx.Amount,
		Currency:          currency,
		Date:              date,
		AuthorizedDate:    authorized,
		Name:              strings.TrimSpace(tx.Name),
		MerchantName:      merchant,
		Categories:        transaction.CategoryLabels(primary, tx.Category),
		Pending:           tx.Pending,
		PendingExternalID: tx.PendingTransactionID,
		RawPayload:        raw,
	}, nil
}

func merchantFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, path := range merchantPaths {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		// jsonpath may hand back a single value or a one-element list
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				continue
			}
			v = list[0]
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func accountParams(conn *connection.Connection, a ofclient.Account) account.UpsertParams {
	p := account.UpsertParams{
		UserID:           conn.UserID,
		ConnectionID:     conn.ID,
		ExternalID:       a.AccountID,
		Name:             a.Name,
		OfficialName:     a.OfficialName,
		Type:             a.Type,
		Subtype:          a.Subtype,
		Mask:             a.Mask,
		Currency:         a.Balances.ISOCurrencyCode,
		AvailableBalance: a.Balances.Available,
	}
	if p.Name == "" {
		p.Name = a.OfficialName
	}
	if a.Balances.Current != nil {
		p.CurrentBalance = *a.Balances.Current
	}
	return p
}
