package assistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/financinha/internal/domain"
	"github.com/shopspring/decimal"
)

// Parse turns raw model output into exactly one Action. Every failure is an
// *InvalidResponseShapeError and no partial action is returned.
func Parse(raw string) (Action, error) {
	clean := cleanModelJSON(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, shapeError(raw, "not a JSON object: %v", err)
	}
	if obj == nil {
		return nil, shapeError(raw, "not a JSON object")
	}
	if dec.More() {
		return nil, shapeError(raw, "trailing data after JSON object")
	}

	tipo, err := getStringField(obj, "tipo", true)
	if err != nil {
		return nil, shapeError(raw, "%v", err)
	}

	var a Action
	switch ActionType(strings.ToLower(strings.TrimSpace(tipo))) {
	case TypeTransaction:
		a, err = parseTransaction(obj)
	case TypeTransfer:
		a, err = parseTransfer(obj)
	case TypeCardPayment:
		a, err = parseCardPayment(obj)
	case TypeQuery:
		a, err = parseAnswer(obj, TypeQuery)
	case TypeSummary:
		a, err = parseAnswer(obj, TypeSummary)
	case TypeQuestion:
		var q string
		q, err = getStringField(obj, "pergunta", true)
		a = Question{Question: strings.TrimSpace(q)}
	case TypeReply:
		var r string
		r, err = getStringField(obj, "resposta", true)
		a = Reply{Response: strings.TrimSpace(r)}
	default:
		return nil, shapeError(raw, "unknown tipo %q", tipo)
	}
	if err != nil {
		return nil, shapeError(raw, "%s: %v", tipo, err)
	}
	return a, nil
}

func parseTransaction(obj map[string]interface{}) (Action, error) {
	m, err := getObjectField(obj, "transacao")
	if err != nil {
		return nil, err
	}

	desc, err := getStringField(m, "descricao", true)
	if err != nil {
		return nil, err
	}
	amount, err := getAmountField(m, "valor")
	if err != nil {
		return nil, err
	}
	dirRaw, err := getStringField(m, "direcao", true)
	if err != nil {
		return nil, err
	}
	dir, ok := domain.ParseDirection(dirRaw)
	if !ok {
		return nil, fmt.Errorf("field %q has unknown value %q", "direcao", dirRaw)
	}
	cat, err := getStringField(m, "categoria", true)
	if err != nil {
		return nil, err
	}
	methodRaw, err := getStringField(m, "meio_pagamento", true)
	if err != nil {
		return nil, err
	}
	accountID, err := getOptionalStringField(m, "conta_id")
	if err != nil {
		return nil, err
	}
	cardID, err := getOptionalStringField(m, "cartao_id")
	if err != nil {
		return nil, err
	}

	method := domain.NormalizePaymentMethod(methodRaw)
	if method == domain.MethodCredit && cardID == nil {
		return nil, fmt.Errorf("field %q is required for credit purchases", "cartao_id")
	}

	return TransactionProposal{
		Description:   strings.TrimSpace(desc),
		Amount:        amount,
		Direction:     dir,
		Category:      domain.NormalizeCategory(cat),
		PaymentMethod: method,
		AccountID:     accountID,
		CreditCardID:  cardID,
		AffectsCash:   domain.AffectsCash(method),
	}, nil
}

func parseTransfer(obj map[string]interface{}) (Action, error) {
	m, err := getObjectField(obj, "transferencia")
	if err != nil {
		return nil, err
	}

	from, err := getStringField(m, "de_conta_id", true)
	if err != nil {
		return nil, err
	}
	to, err := getStringField(m, "para_conta_id", true)
	if err != nil {
		return nil, err
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == to {
		return nil, fmt.Errorf("source and destination accounts are the same")
	}
	amount, err := getAmountField(m, "valor")
	if err != nil {
		return nil, err
	}
	desc, err := getStringField(m, "descricao", false)
	if err != nil {
		return nil, err
	}

	return TransferProposal{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amount,
		Description:   strings.TrimSpace(desc),
	}, nil
}

func parseCardPayment(obj map[string]interface{}) (Action, error) {
	m, err := getObjectField(obj, "pagamento_fatura")
	if err != nil {
		return nil, err
	}

	cardID, err := getStringField(m, "cartao_id", true)
	if err != nil {
		return nil, err
	}
	accountID, err := getStringField(m, "conta_id", true)
	if err != nil {
		return nil, err
	}
	amount, err := getAmountField(m, "valor")
	if err != nil {
		return nil, err
	}
	name, err := getStringField(m, "cartao_nome", false)
	if err != nil {
		return nil, err
	}

	return CardPaymentProposal{
		CreditCardID:  strings.TrimSpace(cardID),
		FromAccountID: strings.TrimSpace(accountID),
		Amount:        amount,
		CardName:      strings.TrimSpace(name),
	}, nil
}

func parseAnswer(obj map[string]interface{}, kind ActionType) (Action, error) {
	r, err := getStringField(obj, "resposta", true)
	if err != nil {
		return nil, err
	}
	return Answer{Kind: kind, Response: strings.TrimSpace(r)}, nil
}

// cleanModelJSON strips Markdown fences and any prose around the outermost
// JSON object. Arrays are left alone so they fail as non-objects.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json).
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSuffix(strings.TrimSpace(s[idx+1:]), "```")
		s = strings.TrimSpace(s)
	}

	if strings.HasPrefix(s, "[") {
		return s
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func getObjectField(m map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing required field %q", key)
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want object", key, v)
	}
	return obj, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	val, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	if required && strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("required field %q is empty", key)
	}
	return val, nil
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	val, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
	s := strings.TrimSpace(val)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	return &s, nil
}

// getAmountField reads a positive amount given as a JSON number or a numeric
// string such as "25,50".
func getAmountField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch val := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(val.String())
		d = d.Round(2)
	case string:
		d, err = domain.ParseAmount(val)
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("field %q must be positive, got %s", key, d)
	}
	return d, nil
}
