package template

import (
	"fmt"
	"strings"

	"github.com/guichetdigital/notification-service/internal/models"
)

// registry maps every notification type to its static template. The set of
// types is closed; adding a type means adding an entry here.
var registry = map[models.NotificationType]models.Template{
	models.TypeDemandeRecue: {
		ID:        "demande-recue",
		Name:      "Demande reçue",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelInApp},
		Subject:   "Votre demande a été reçue",
		Content:   "Bonjour {{firstName}}, votre demande {{trackingNumber}} a été reçue et sera traitée dans les meilleurs délais.",
		Variables: []string{"firstName", "trackingNumber"},
	},
	models.TypeDemandeAssignee: {
		ID:        "demande-assignee",
		Name:      "Demande assignée",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelInApp},
		Subject:   "Votre demande est en cours de traitement",
		Content:   "Bonjour {{firstName}}, votre demande {{trackingNumber}} a été assignée à un agent et est en cours de traitement.",
		Variables: []string{"firstName", "trackingNumber"},
	},
	models.TypeDemandeValidee: {
		ID:        "demande-validee",
		Name:      "Demande validée",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelWhatsApp, models.ChannelInApp},
		Subject:   "Votre demande a été validée",
		Content:   "Bonjour {{firstName}}, bonne nouvelle ! Votre demande {{trackingNumber}} a été validée.",
		Variables: []string{"firstName", "trackingNumber"},
	},
	models.TypeDocumentManquant: {
		ID:        "document-manquant",
		Name:      "Document manquant",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush, models.ChannelInApp},
		Subject:   "Document manquant pour votre demande",
		Content:   "Bonjour {{firstName}}, il manque le document suivant pour votre demande {{trackingNumber}} : {{documentName}}. Merci de le fournir au plus vite.",
		Variables: []string{"firstName", "trackingNumber", "documentName"},
	},
	models.TypeDocumentPret: {
		ID:        "document-pret",
		Name:      "Document prêt",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelWhatsApp, models.ChannelPush, models.ChannelInApp},
		Subject:   "Votre document est prêt",
		Content:   "Bonjour {{firstName}}, votre document {{documentName}} est prêt. Vous pouvez le retirer au guichet ou le télécharger en ligne.",
		Variables: []string{"firstName", "documentName"},
	},
	models.TypeRdvConfirme: {
		ID:        "rdv-confirme",
		Name:      "Rendez-vous confirmé",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelInApp},
		Subject:   "Votre rendez-vous est confirmé",
		Content:   "Bonjour {{firstName}}, votre rendez-vous du {{appointmentDate}} à {{appointmentTime}} est confirmé.",
		Variables: []string{"firstName", "appointmentDate", "appointmentTime"},
	},
	models.TypeRappelRdv: {
		ID:        "rappel-rdv",
		Name:      "Rappel de rendez-vous",
		Channels:  []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelPush},
		Content:   "Bonjour {{firstName}}, rappel : vous avez rendez-vous demain {{appointmentDate}} à {{appointmentTime}}.",
		Variables: []string{"firstName", "appointmentDate", "appointmentTime"},
	},
	models.TypeStatutChange: {
		ID:        "statut-change",
		Name:      "Changement de statut",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelInApp},
		Subject:   "Mise à jour de votre demande",
		Content:   "Bonjour {{firstName}}, le statut de votre demande {{trackingNumber}} est passé à : {{newStatus}}.",
		Variables: []string{"firstName", "trackingNumber", "newStatus"},
	},
	models.TypeSystemAlert: {
		ID:        "system-alert",
		Name:      "Alerte système",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelInApp},
		Subject:   "Alerte système",
		Content:   "{{alertMessage}}",
		Variables: []string{"alertMessage"},
	},
	models.TypePaymentReceived: {
		ID:        "payment-received",
		Name:      "Paiement reçu",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelInApp},
		Subject:   "Paiement reçu",
		Content:   "Bonjour {{firstName}}, nous avons bien reçu votre paiement de {{amount}} pour la demande {{trackingNumber}}.",
		Variables: []string{"firstName", "amount", "trackingNumber"},
	},
	models.TypeSignatureRequested: {
		ID:        "signature-requested",
		Name:      "Signature requise",
		Channels:  []models.Channel{models.ChannelEmail, models.ChannelPush, models.ChannelInApp},
		Subject:   "Votre signature est requise",
		Content:   "Bonjour {{firstName}}, votre signature est requise pour le document {{documentName}}.",
		Variables: []string{"firstName", "documentName"},
	},
}

// Resolve returns the template for a notification type.
func Resolve(t models.NotificationType) (models.Template, error) {
	tmpl, ok := registry[t]
	if !ok {
		return models.Template{}, fmt.Errorf("%w: %s", models.ErrUnknownType, t)
	}
	return tmpl, nil
}

// Render substitutes every {{name}} placeholder listed in the template's
// variables. A missing variable renders as the empty string, never an error.
func Render(tmpl models.Template, vars map[string]string) string {
	out := tmpl.Content
	for _, name := range tmpl.Variables {
		out = strings.ReplaceAll(out, "{{"+name+"}}", vars[name])
	}
	return out
}

// RenderSubject substitutes placeholders in the optional subject line.
func RenderSubject(tmpl models.Template, vars map[string]string) string {
	out := tmpl.Subject
	for _, name := range tmpl.Variables {
		out = strings.ReplaceAll(out, "{{"+name+"}}", vars[name])
	}
	return out
}
