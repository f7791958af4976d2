package trigger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/approval-service/internal/domain"
)

const missingValue = "-"

// detailAliases maps a template variable to the form labels it is read from.
var detailAliases = map[string][]string{
	"title":       {"title", "subject", "summary"},
	"description": {"description", "details", "justification", "reason"},
	"amount":      {"amount", "price", "cost", "budget", "total"},
	"quantity":    {"quantity", "qty"},
	"customer":    {"customer", "client"},
	"due_date":    {"due date", "due", "deadline", "needed by"},
	"vendor":      {"vendor", "supplier"},
}

// TicketContext is everything the variable builder reads.
type TicketContext struct {
	Ticket     *domain.Ticket
	Requester  *domain.Account
	Department *domain.Department
	Service    *domain.Service
}

// BuildVariables derives the template variables handlers render with.
func BuildVariables(tc TicketContext) map[string]any {
	vars := map[string]any{
		"ticket_id":       int64(0),
		"ticket_key":      missingValue,
		"requester_name":  missingValue,
		"requester_email": missingValue,
		"department":      missingValue,
		"service_name":    missingValue,
		"status":          missingValue,
		"created_at":      missingValue,
	}

	details := map[string]string{}
	if t := tc.Ticket; t != nil {
		vars["ticket_id"] = t.ID
		vars["ticket_key"] = t.ExternalKey
		vars["status"] = string(t.Status)
		vars["created_at"] = t.CreatedAt.UTC().Format(time.RFC3339)
		if t.Details != nil {
			details = t.Details
		}
	}
	if r := tc.Requester; r != nil {
		vars["requester_name"] = orMissing(r.Name)
		vars["requester_email"] = orMissing(r.Email)
	}
	if d := tc.Department; d != nil {
		vars["department"] = orMissing(d.Name)
	}
	if s := tc.Service; s != nil {
		vars["service_name"] = orMissing(s.Name)
	}

	detailVars := make(map[string]any, len(details))
	for label, value := range details {
		detailVars[label] = value
	}
	vars["details"] = detailVars

	for name, aliases := range detailAliases {
		value, ok := matchDetail(details, aliases)
		if !ok {
			vars[name] = missingValue
			continue
		}
		if name == "amount" {
			value = normalizeAmount(value)
		}
		vars[name] = value
	}
	return vars
}

// matchDetail returns the first non-empty detail whose label matches an alias.
// Exact label matches win over substring matches.
func matchDetail(details map[string]string, aliases []string) (string, bool) {
	labels := make([]string, 0, len(details))
	for label := range details {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, alias := range aliases {
		for _, label := range labels {
			if strings.EqualFold(strings.TrimSpace(label), alias) && strings.TrimSpace(details[label]) != "" {
				return strings.TrimSpace(details[label]), true
			}
		}
	}
	for _, alias := range aliases {
		for _, label := range labels {
			if strings.Contains(strings.ToLower(label), alias) && strings.TrimSpace(details[label]) != "" {
				return strings.TrimSpace(details[label]), true
			}
		}
	}
	return "", false
}

// normalizeAmount renders money-like input with two decimals. Unparseable
// input is returned unchanged.
func normalizeAmount(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return raw
	}
	return amount.StringFixed(2)
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missingValue
	}
	return s
}
