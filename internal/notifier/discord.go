package notifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/comunidade-viva/eventos-api/internal/models"
)

// DiscordNotifier posts confirmed registrations to the organizers' channel.
type DiscordNotifier struct {
	channelID string
	send      func(channelID, content string) error
}

func NewDiscordNotifier(session *discordgo.Session, channelID string) *DiscordNotifier {
	n := &DiscordNotifier{channelID: channelID}
	if session != nil {
		n.send = func(channelID, content string) error {
			_, err := session.ChannelMessageSend(channelID, content)
			return err
		}
	}
	return n
}

// Open starts a bot session for token. It returns nil, nil when the bot is
// not configured.
func Open(token, channelID string) (*DiscordNotifier, error) {
	if token == "" || channelID == "" {
		return nil, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return NewDiscordNotifier(session, channelID), nil
}

func (n *DiscordNotifier) NotifyConfirmed(event models.Event, reg models.Registration) error {
	if n.send == nil {
		return errors.New("discord session is nil")
	}
	if n.channelID == "" {
		return errors.New("discord channel ID is empty")
	}

	return n.send(n.channelID, confirmedMessage(event, reg))
}

func confirmedMessage(event models.Event, reg models.Registration) string {
	title := event.Title
	if title == "" {
		title = fmt.Sprintf("evento #%d", reg.EventID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ **Inscrição confirmada**\n**Evento:** %s\n**Participante:** %s (%s)", title, reg.Name, reg.Email)

	details, ok := models.DecodePaymentDetails(reg.PaymentDetails)
	if ok && details.Provider != nil {
		fmt.Fprintf(&b, "\n**Pagamento:** %s R$ %.2f", details.Provider.PaymentMethod, details.Provider.TransactionAmount)
	}
	if reg.PaymentID != "" {
		fmt.Fprintf(&b, "\n**ID:** %s", reg.PaymentID)
	}
	return b.String()
}
