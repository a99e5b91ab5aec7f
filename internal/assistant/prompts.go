package assistant

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/domain"
)

// DefaultContextWindow is how many prior turns are sent with a new message.
const DefaultContextWindow = 4

const basePrompt = `Você é o assistente financeiro do aplicativo "Financinha".
Seu objetivo é ler as mensagens do usuário e extrair os dados financeiros no formato JSON estrito.
Se a mensagem for muito vaga ou faltar informações cruciais (como valor ou conta), pergunte de volta para esclarecer.
`

const rulesPrompt = `Regra de Categoria:
SEMPRE prefira usar uma das "Categorias já existentes" listadas acima se o gasto se encaixar minimamente (ex: se a pessoa gastou com estacionamento e existe a categoria "CARRO", use "CARRO"). Crie uma nova categoria apenas se o gasto for completamente diferente das opções existentes.

Regras de Contas e Cartões:
- Use apenas ids das listas de contas e cartões acima. Nunca invente ids.
- Compras no crédito ("credito") precisam de "cartao_id".
- Em uma transferência, se houver mais de uma conta possível e o usuário não disser a origem ou o destino, use "pergunta".
- Para pagar a fatura de um cartão use "pagamento_fatura".
- Para perguntas sobre gastos, saldos ou faturas, responda com "consulta" usando o resumo financeiro acima.
- Para pedidos de resumo de um período, responda com "resumo".
- Para conversa que não envolve finanças, responda com "conversa".
`

const schemaPrompt = `Formato retornado em JSON (exatamente um dos formatos abaixo):
{
  "tipo": "transacao",
  "transacao": {
    "descricao": "Nome do gasto ou ganho",
    "valor": 12.50,
    "direcao": "SAIDA" ou "ENTRADA",
    "categoria": "Nome da categoria preferencialmente escolhida da lista existente",
    "meio_pagamento": "credito, debito, pix, dinheiro, etc",
    "conta_id": "id da conta ou null",
    "cartao_id": "id do cartão ou null"
  }
}
{
  "tipo": "transferencia",
  "transferencia": { "de_conta_id": "id", "para_conta_id": "id", "valor": 100.00, "descricao": "texto" }
}
{
  "tipo": "pagamento_fatura",
  "pagamento_fatura": { "cartao_id": "id", "conta_id": "id", "valor": 500.00, "cartao_nome": "nome do cartão" }
}
{ "tipo": "consulta", "resposta": "texto" }
{ "tipo": "resumo", "resposta": "texto" }
{ "tipo": "pergunta", "pergunta": "o que deseja perguntar" }
{ "tipo": "conversa", "resposta": "texto" }

Importante:
- "valor" é sempre um número positivo.
- Se o usuário não mencionar a data, assuma que foi hoje (mas não precisa retornar a data no JSON, o sistema fará isso).
- Responda apenas e estritamente com o objeto JSON. Não inclua texto fora do JSON. Não envolva com ` + "```json." + `
`

// BuildSystemPrompt composes the system instruction from a fresh snapshot.
// The same snapshot and day always produce the same text.
func BuildSystemPrompt(s *Snapshot, today civil.Date) string {
	var b strings.Builder

	b.WriteString(basePrompt)
	fmt.Fprintf(&b, "Hoje é %s.\n\n", formatDate(today))

	b.WriteString("Categorias já existentes no sistema do usuário:\n")
	if len(s.Categories) > 0 {
		fmt.Fprintf(&b, "[ %s ]\n\n", strings.Join(s.Categories, ", "))
	} else {
		b.WriteString("[ Nenhuma ]\n\n")
	}

	b.WriteString("Contas do usuário:\n")
	if len(s.Accounts) == 0 {
		b.WriteString("- Nenhuma\n")
	}
	for _, a := range s.Accounts {
		fmt.Fprintf(&b, "- id: %s | nome: %s | tipo: %s\n", a.Account.ID, a.Account.Name, a.Account.Type)
	}
	b.WriteString("\nCartões de crédito do usuário:\n")
	if len(s.Cards) == 0 {
		b.WriteString("- Nenhum\n")
	}
	for _, c := range s.Cards {
		fmt.Fprintf(&b, "- id: %s | nome: %s | limite: %s | fechamento: dia %d | vencimento: dia %d\n",
			c.Card.ID, c.Card.Name, domain.FormatBRL(c.Card.Limit), c.Card.ClosingDay, c.Card.DueDay)
	}

	b.WriteString("\nResumo financeiro:\n")
	b.WriteString(s.Text())
	b.WriteString("\n")
	b.WriteString(rulesPrompt)
	b.WriteString("\n")
	b.WriteString(schemaPrompt)
	return b.String()
}

// BuildMessages assembles the request: the system instruction, the last
// window turns of history, then the new user message. window <= 0 uses
// DefaultContextWindow.
func BuildMessages(system string, history []Message, message string, window int) []Message {
	if window <= 0 {
		window = DefaultContextWindow
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	out := make([]Message, 0, len(history)+2)
	out = append(out, Message{Role: RoleSystem, Content: system})
	out = append(out, history...)
	out = append(out, Message{Role: RoleUser, Content: message})
	return out
}
