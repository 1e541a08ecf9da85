package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/otp/domain"
)

func TestRouter_Send(t *testing.T) {
	var got []domain.Method
	record := Func(func(_ context.Context, d Delivery) error {
		got = append(got, d.Method)
		return nil
	})
	r := NewRouter().Handle(domain.MethodEmail, record)

	require.NoError(t, r.Send(context.Background(), Delivery{Method: domain.MethodEmail}))
	assert.Error(t, r.Send(context.Background(), Delivery{Method: domain.MethodPhone}))
	assert.Equal(t, []domain.Method{domain.MethodEmail}, got)
}

func TestFanout_ReturnsFirstErrorButCallsAll(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	f := Fanout{
		Func(func(context.Context, Delivery) error { calls++; return boom }),
		Func(func(context.Context, Delivery) error { calls++; return nil }),
	}
	assert.ErrorIs(t, f.Send(context.Background(), Delivery{}), boom)
	assert.Equal(t, 2, calls)
}

type fakeMailSender struct {
	status int
	err    error
	sent   *mail.SGMailV3
}

func (f *fakeMailSender) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridNotifier_Send(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeMailSender{status: 202}
	n := NewSendGridNotifier("key", "Builder Claims", "no-reply@example.com")
	n.client = fake
	n.nowF = func() time.Time { return now }

	err := n.Send(context.Background(), Delivery{
		Contact: "owner@example.com", Method: domain.MethodEmail, Code: "482913", ExpiresAt: now.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, fake.sent)
	assert.Equal(t, emailSubject, fake.sent.Subject)
	assert.Equal(t, "no-reply@example.com", fake.sent.From.Address)
	require.NotEmpty(t, fake.sent.Content)
	assert.Contains(t, fake.sent.Content[0].Value, "482913")
	assert.Contains(t, fake.sent.Content[0].Value, "10 minutes")
}

func TestSendGridNotifier_Failures(t *testing.T) {
	n := NewSendGridNotifier("key", "", "no-reply@example.com")

	n.client = &fakeMailSender{status: 401}
	assert.Error(t, n.Send(context.Background(), Delivery{Contact: "a@example.com"}))

	n.client = &fakeMailSender{err: errors.New("dial")}
	assert.Error(t, n.Send(context.Background(), Delivery{Contact: "a@example.com"}))
}
