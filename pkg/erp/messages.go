package erp

import "github.com/procurahq/procura/pkg/domain"

// User-safe classification keys shown wherever an order's ERP standing is
// surfaced. Raw ERP error bodies never reach these strings.
const (
	StatusKeyRejected   = "rejeitado"
	StatusKeyRetryable  = "reenvio_necessario"
	StatusKeySent       = "enviado"
	StatusKeyAccepted   = "aceito"
	StatusKeyNotSent    = "nao_enviado"
)

// friendlyMessages are the fixed texts stored in erp_last_error and
// rendered to users. Keys are internal error codes.
var friendlyMessages = map[string]string{
	"erp_rejected":         "O ERP recusou a ordem de compra. Revise os dados e gere uma nova ordem.",
	"erp_contract_invalid": "A ordem de compra não pôde ser validada para envio ao ERP.",
	"erp_unavailable":      "O ERP está temporariamente indisponível. O reenvio será feito automaticamente.",
	"erp_circuit_open":     "O envio ao ERP está pausado por instabilidade. Novas tentativas serão agendadas.",
}

// Message returns the fixed friendly text for an internal error code.
func Message(code string) string {
	if m, ok := friendlyMessages[code]; ok {
		return m
	}
	return friendlyMessages["erp_unavailable"]
}

// StatusKey classifies a purchase order's ERP standing for presentation.
// retryPending marks orders whose push failed temporarily and is queued for
// another attempt.
func StatusKey(status domain.OrderStatus, retryPending bool) string {
	switch status {
	case domain.OrderErpAccepted, domain.OrderPartiallyReceived, domain.OrderReceived:
		return StatusKeyAccepted
	case domain.OrderSentToErp:
		if retryPending {
			return StatusKeyRetryable
		}
		return StatusKeySent
	case domain.OrderErpError:
		return StatusKeyRejected
	default:
		return StatusKeyNotSent
	}
}
