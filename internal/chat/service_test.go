package chat

import (
	"context"
	"testing"
	"time"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/relay"
	"github.com/careline/careline-server/internal/session"
	"github.com/careline/careline-server/internal/store"
	"github.com/careline/careline-server/internal/store/sqlite"
)

type fixture struct {
	svc     *Service
	gateway *relay.Gateway
	store   store.Store
	patient *store.User
	doctor  *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	patient, err := s.CreateUser(ctx, "pat", "Pat Smith", "hash", core.RolePatient)
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	doctor, err := s.CreateUser(ctx, "doc", "Dr. Jones", "hash", core.RoleDoctor)
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}

	gateway := relay.NewGateway()
	return &fixture{
		svc:     New(s, session.New(s), gateway),
		gateway: gateway,
		store:   s,
		patient: patient,
		doctor:  doctor,
	}
}

func expectKind(t *testing.T, err error, kind core.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := core.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func mustPush(t *testing.T, c *relay.Conn) *store.Message {
	t.Helper()
	select {
	case msg := <-c.Events():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for push")
		return nil
	}
}

// Walks the full flow: doctor opens the conversation, both sides exchange
// messages with live push, patient marks read.
func TestConversationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open with patient: %v", err)
	}
	if len(view.Messages) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(view.Messages))
	}
	convID := view.Conversation.ID

	// Doctor is online; patient's send is pushed to them.
	doctorConn := relay.NewConn(f.doctor.ID)
	f.gateway.Register(doctorConn)

	sent, err := f.svc.SendMessage(ctx, f.patient.ID, convID, "Hello")
	if err != nil {
		t.Fatalf("patient send: %v", err)
	}
	if sent.SenderID != f.patient.ID || sent.Content != "Hello" || sent.Read {
		t.Fatalf("unexpected stored message: %+v", sent)
	}

	pushed := mustPush(t, doctorConn)
	if pushed.ID != sent.ID || pushed.Content != "Hello" {
		t.Fatalf("unexpected push: %+v", pushed)
	}

	reply, err := f.svc.SendMessage(ctx, f.doctor.ID, convID, "Hi")
	if err != nil {
		t.Fatalf("doctor send: %v", err)
	}
	if reply.SentAt.Before(sent.SentAt) {
		t.Fatalf("reply sent_at %v precedes first message %v", reply.SentAt, sent.SentAt)
	}

	// Patient marks read: the doctor's "Hi" flips, their own "Hello" stays.
	marked, err := f.svc.MarkAsRead(ctx, f.patient.ID, convID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked != 1 {
		t.Fatalf("expected 1 marked, got %d", marked)
	}

	for _, who := range []int64{f.patient.ID, f.doctor.ID} {
		messages, err := f.svc.ListMessages(ctx, who, convID, 0, nil)
		if err != nil {
			t.Fatalf("list for %d: %v", who, err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		if messages[0].Content != "Hello" || messages[0].Read {
			t.Errorf("first message wrong: %+v", messages[0])
		}
		if messages[1].Content != "Hi" || !messages[1].Read {
			t.Errorf("second message wrong: %+v", messages[1])
		}
	}
}

func TestOpenWithPatient_RoleAndLookupFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenWithPatient(ctx, core.RolePatient, f.patient.ID, f.patient.ID)
	expectKind(t, err, core.KindForbidden)

	_, err = f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, 9999)
	expectKind(t, err, core.KindNotFound)

	// Another doctor's ID is not a valid patient counterpart.
	other, err := f.store.CreateUser(ctx, "doc2", "Dr. Two", "hash", core.RoleDoctor)
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	_, err = f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, other.ID)
	expectKind(t, err, core.KindNotFound)
}

func TestOpenWithDoctor_ResolvesProvisionedDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenWithDoctor(ctx, core.RoleDoctor, f.doctor.ID)
	expectKind(t, err, core.KindForbidden)

	view, err := f.svc.OpenWithDoctor(ctx, core.RolePatient, f.patient.ID)
	if err != nil {
		t.Fatalf("open with doctor: %v", err)
	}
	if view.Conversation.DoctorID != f.doctor.ID || view.Conversation.PatientID != f.patient.ID {
		t.Fatalf("unexpected participants: %+v", view.Conversation)
	}

	// Both sides resolve to the same conversation.
	docView, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open with patient: %v", err)
	}
	if docView.Conversation.ID != view.Conversation.ID {
		t.Fatalf("pair resolved to two conversations: %s, %s", docView.Conversation.ID, view.Conversation.ID)
	}
}

func TestOpenWithDoctor_NoDoctorProvisioned(t *testing.T) {
	ctx := context.Background()

	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	patient, err := s.CreateUser(ctx, "pat", "Pat", "hash", core.RolePatient)
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	svc := New(s, session.New(s), relay.NewGateway())
	_, err = svc.OpenWithDoctor(ctx, core.RolePatient, patient.ID)
	expectKind(t, err, core.KindNotFound)
}

func TestSendMessage_OutsiderForbiddenNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	outsider, err := f.store.CreateUser(ctx, "eve", "Eve", "hash", core.RolePatient)
	if err != nil {
		t.Fatalf("create outsider: %v", err)
	}

	_, err = f.svc.SendMessage(ctx, outsider.ID, view.Conversation.ID, "hello?")
	expectKind(t, err, core.KindForbidden)

	_, err = f.svc.ListMessages(ctx, outsider.ID, view.Conversation.ID, 0, nil)
	expectKind(t, err, core.KindForbidden)

	messages, err := f.svc.ListMessages(ctx, f.patient.ID, view.Conversation.ID, 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("forbidden send left %d messages", len(messages))
	}
}

func TestSendMessage_EmptyContentNoDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	doctorConn := relay.NewConn(f.doctor.ID)
	f.gateway.Register(doctorConn)

	_, err = f.svc.SendMessage(ctx, f.patient.ID, view.Conversation.ID, "   ")
	expectKind(t, err, core.KindInvalidArgument)

	select {
	case msg := <-doctorConn.Events():
		t.Fatalf("rejected send was delivered: %+v", msg)
	default:
	}
}

func TestSendMessage_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SendMessage(context.Background(), f.patient.ID, "no-such-conversation", "hi")
	expectKind(t, err, core.KindNotFound)
}

// A recipient who was offline during the send finds the message in the
// durable log afterwards.
func TestSendMessage_OfflineRecipientSyncsFromLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Doctor has no live connection; the send must still succeed.
	sent, err := f.svc.SendMessage(ctx, f.patient.ID, view.Conversation.ID, "while you were out")
	if err != nil {
		t.Fatalf("send with offline recipient: %v", err)
	}

	messages, err := f.svc.ListMessages(ctx, f.doctor.ID, view.Conversation.ID, 0, nil)
	if err != nil {
		t.Fatalf("list on reconnect: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != sent.ID {
		t.Fatalf("expected the missed message in the log, got %+v", messages)
	}
}

func TestListConversations_Summaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.OpenWithPatient(ctx, core.RoleDoctor, f.doctor.ID, f.patient.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, f.patient.ID, view.Conversation.ID, "Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	summaries, err := f.svc.ListConversations(ctx, f.doctor.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Unread != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}
