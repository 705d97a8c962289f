package mailer

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"gopkg.in/gomail.v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/logger"
)

// Mail est un message déjà rendu : ce module décide seulement du moment
// de l'envoi, pas de la livraison ni des relances.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

// Letter est un courrier postal contenant le code de vérification,
// remis à un prestataire d'envoi via une file partagée.
type Letter struct {
	CompanyOrgID string `json:"companyOrgId"`
	CompanyName  string `json:"companyName"`
	Code         string `json:"code"`
}

const letterQueueKey = "queue:letters"

// SendMail envoie le message via SMTP. Sans configuration SMTP, le message
// est seulement journalisé (environnements de développement et de test).
// Best-effort : appelé après commit, l'échec n'est jamais remonté.
func SendMail(m Mail) {
	cfg := config.Load()

	if cfg.SMTPHost == "" {
		logger.Get().WithField("to", m.To).WithField("subject", m.Subject).Info("SMTP non configuré, mail non envoyé")
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", cfg.MailFrom)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.Body)

	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	if err := dialer.DialAndSend(msg); err != nil {
		logger.Get().WithError(err).WithField("subject", m.Subject).Error("échec d'envoi du mail")
	}
}

// SendLetter met le courrier en file pour le prestataire postal.
func SendLetter(ctx context.Context, rdb *redis.Client, l Letter) {
	payload, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := rdb.LPush(ctx, letterQueueKey, payload).Err(); err != nil {
		logger.Get().WithError(err).WithField("org_id", l.CompanyOrgID).Error("échec de mise en file du courrier")
	}
}
