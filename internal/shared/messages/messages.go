package messages

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MessageText is a push notification template. Placeholders use the
// {name} form and are filled by Render.
type MessageText struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

type Messages struct {
	ReauthRequired  MessageText `yaml:"reauth_required"`
	ConnectionError MessageText `yaml:"connection_error"`
	ReceiptMatched  MessageText `yaml:"receipt_matched"`
	ReceiptFailed   MessageText `yaml:"receipt_failed"`
}

// Defaults are used when no messages file is configured.
var Defaults = Messages{
	ReauthRequired: MessageText{
		Title: "Reconnect {institution}",
		Body:  "Your {institution} connection needs attention. Sign in again to keep your transactions up to date.",
	},
	ConnectionError: MessageText{
		Title: "{institution} is having trouble",
		Body:  "We could not reach {institution}. We will keep trying.",
	},
	ReceiptMatched: MessageText{
		Title: "Receipt matched",
		Body:  "Your {merchant} receipt was linked to a {amount} transaction.",
	},
	ReceiptFailed: MessageText{
		Title: "Receipt could not be read",
		Body:  "We could not read {file}. Try uploading a clearer image.",
	},
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the notifications YAML file and caches the result. Missing
// entries fall back to Defaults. Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		loaded = Defaults
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
		}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

// Render substitutes {key} placeholders in both title and body.
func (m MessageText) Render(vars map[string]string) (title, body string) {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(m.Title), r.Replace(m.Body)
}

// FormatAmount renders a decimal amount in the currency's display format,
// e.g. "$48.10". Unknown currencies fall back to "48.10 XYZ".
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
