package worker

import (
	"context"
	"errors"
	"testing"

	"zapflow/models"
)

type recordingGateway struct {
	ctxErr error
	phone  string
}

func (g *recordingGateway) SendText(ctx context.Context, instance, phone, text string) (string, error) {
	g.ctxErr = ctx.Err()
	g.phone = phone
	return "MSG-1", nil
}

func (g *recordingGateway) SendMedia(ctx context.Context, instance, phone, mediaType, mediaURL, caption string) (string, error) {
	g.ctxErr = ctx.Err()
	return "MSG-1", nil
}

func (g *recordingGateway) SendAudio(ctx context.Context, instance, phone, audioURL string) (string, error) {
	g.ctxErr = ctx.Err()
	return "MSG-1", nil
}

func TestSendDetachesFromCancelledContext(t *testing.T) {
	gw := &recordingGateway{}
	d := &Dispatcher{Gateway: gw}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	campaign := &models.Campaign{InstanceName: "sales-01"}
	step := &models.SequenceStep{MessageKind: models.MessageKindText}

	id, err := d.send(ctx, campaign, step, "5511999998888", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "MSG-1" {
		t.Fatalf("message id = %q", id)
	}
	if gw.ctxErr != nil {
		t.Fatalf("gateway call ran on a cancelled context: %v", gw.ctxErr)
	}
	if gw.phone != "5511999998888" {
		t.Fatalf("phone = %q", gw.phone)
	}
}

func TestSendUnsupportedKind(t *testing.T) {
	d := &Dispatcher{Gateway: &recordingGateway{}}
	campaign := &models.Campaign{InstanceName: "sales-01"}
	step := &models.SequenceStep{MessageKind: "carousel"}

	_, err := d.send(context.Background(), campaign, step, "5511999998888", "hi")
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("error type = %T, want *DataError", err)
	}
}
