package notify_test

import (
	"context"
	"errors"
	"testing"

	"ms-eventchain/internal/models"
	"ms-eventchain/internal/notify"

	"github.com/stretchr/testify/assert"
)

func TestFanoutDeliversDespiteFailures(t *testing.T) {
	var got []string
	failing := notify.PublisherFunc(func(context.Context, models.DomainEvent) error {
		got = append(got, "failing")
		return errors.New("broker down")
	})
	ok := notify.PublisherFunc(func(_ context.Context, evt models.DomainEvent) error {
		got = append(got, string(evt.Type))
		return nil
	})

	err := notify.Fanout{failing, nil, ok}.Publish(context.Background(), models.DomainEvent{Type: models.TypeTicketMinted})

	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []string{"failing", "TICKET_MINTED"}, got)
}
