package marketplace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ignite/leadgen-site/internal/ses"
	"github.com/ignite/leadgen-site/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func validAgency() *RegistrationRequest {
	return &RegistrationRequest{
		CompanyName: " Acme Growth ",
		ContactName: "Jane Doe",
		Email:       "Jane@Acme.io",
		ListingType: "agency",
		TeamSize:    12,
		Categories:  []string{"SEO", " ", "Paid Ads"},
		AcceptTerms: true,
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	regs  []*storage.Registration
	err   error
	block chan struct{}
}

func (n *recordingNotifier) NotifyRegistration(ctx context.Context, reg *storage.Registration, _ storage.RegistrationCount) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.regs = append(n.regs, reg)
	return n.err
}

func TestValidate(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), nil, time.Second)

	tests := []struct {
		name   string
		mutate func(r *RegistrationRequest)
		fields []string
	}{
		{"valid agency", func(r *RegistrationRequest) {}, nil},
		{"freelancer needs no team size", func(r *RegistrationRequest) { r.ListingType = "freelancer"; r.TeamSize = 0 }, nil},
		{"agency needs team size", func(r *RegistrationRequest) { r.TeamSize = 0 }, []string{"teamSize"}},
		{"software needs product url", func(r *RegistrationRequest) { r.ListingType = "software"; r.TeamSize = 0 }, []string{"productUrl"}},
		{"software with url", func(r *RegistrationRequest) {
			r.ListingType = "Software"
			r.TeamSize = 0
			r.ProductURL = "https://acme.io/app"
		}, nil},
		{"bad product url", func(r *RegistrationRequest) { r.ListingType = "software"; r.ProductURL = "not a url" }, []string{"productUrl"}},
		{"unknown listing", func(r *RegistrationRequest) { r.ListingType = "reseller" }, []string{"listingType"}},
		{"terms", func(r *RegistrationRequest) { r.AcceptTerms = false }, []string{"acceptTerms"}},
		{"email", func(r *RegistrationRequest) { r.Email = "nope" }, []string{"email"}},
		{"blank names", func(r *RegistrationRequest) { r.CompanyName = "  "; r.ContactName = "" }, []string{"companyName", "contactName"}},
		{"website", func(r *RegistrationRequest) { r.Website = "acme dot io" }, []string{"website"}},
		{"too many categories", func(r *RegistrationRequest) { r.Categories = strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",") }, []string{"categories"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validAgency()
			tt.mutate(req)
			err := svc.Validate(req)
			if tt.fields == nil {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), nil, time.Second)
	req := validAgency()
	require.NoError(t, svc.Validate(req))
	assert.Equal(t, "Acme Growth", req.CompanyName)
	assert.Equal(t, "jane@acme.io", req.Email)
	assert.Equal(t, []string{"SEO", "Paid Ads"}, req.Categories)
}

func TestValidationReasons(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), nil, time.Second)
	req := validAgency()
	req.TeamSize = 0
	req.AcceptTerms = false

	var verr *ValidationError
	require.ErrorAs(t, svc.Validate(req), &verr)
	assert.Equal(t, "is required for agency listings", verr.Fields["teamSize"])
	assert.Equal(t, "must be accepted", verr.Fields["acceptTerms"])
	assert.Equal(t, "validation failed: acceptTerms, teamSize", verr.Error())
}

func TestRegister(t *testing.T) {
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier, time.Second)
	svc.newID = func() string { return "reg-1" }
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	res, err := svc.Register(context.Background(), validAgency(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "reg-1", res.ID)
	assert.Equal(t, int64(1), res.Total)
	svc.Wait()

	reg, ok := store.Registration("reg-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, reg.Status)
	assert.Equal(t, fixed, reg.CreatedAt)
	assert.Equal(t, "203.0.113.9", reg.SourceIP)
	assert.Equal(t, 12, reg.TeamSize)

	count, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.ByType["agency"])

	require.Len(t, notifier.regs, 1)
	assert.Equal(t, "reg-1", notifier.regs[0].ID)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewService(store, &recordingNotifier{}, time.Second)
	req := validAgency()
	req.AcceptTerms = false

	_, err := svc.Register(context.Background(), req, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	count, err := store.RegistrationCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count.Total)
}

type failingStore struct {
	storage.RegistrationStore
	saveErr, incErr error
}

func (f *failingStore) SaveRegistration(ctx context.Context, reg *storage.Registration) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.RegistrationStore.SaveRegistration(ctx, reg)
}

func (f *failingStore) IncrementRegistrations(ctx context.Context, lt string) (storage.RegistrationCount, error) {
	if f.incErr != nil {
		return storage.RegistrationCount{}, f.incErr
	}
	return f.RegistrationStore.IncrementRegistrations(ctx, lt)
}

func TestRegisterStoreFailures(t *testing.T) {
	boom := errors.New("db down")

	svc := NewService(&failingStore{RegistrationStore: storage.NewMemoryStore(), saveErr: boom}, nil, time.Second)
	_, err := svc.Register(context.Background(), validAgency(), "")
	assert.ErrorIs(t, err, boom)

	svc = NewService(&failingStore{RegistrationStore: storage.NewMemoryStore(), incErr: boom}, nil, time.Second)
	res, err := svc.Register(context.Background(), validAgency(), "")
	require.NoError(t, err, "counter failures are logged only")
	assert.NotEmpty(t, res.ID)
	assert.Zero(t, res.Total)
}

func TestNotificationFailureDoesNotPropagate(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("ses throttled")}
	svc := NewService(storage.NewMemoryStore(), notifier, time.Second)

	_, err := svc.Register(context.Background(), validAgency(), "")
	require.NoError(t, err)
	svc.Wait()
	assert.Len(t, notifier.regs, 1)
}

func TestNotificationOutlivesRequest(t *testing.T) {
	notifier := &recordingNotifier{block: make(chan struct{})}
	svc := NewService(storage.NewMemoryStore(), notifier, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Register(ctx, validAgency(), "")
	require.NoError(t, err)
	cancel()

	close(notifier.block)
	svc.Wait()
	assert.Len(t, notifier.regs, 1)
}

type fakeSender struct {
	msgs []*ses.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *ses.Message) (string, error) {
	f.msgs = append(f.msgs, msg)
	return "id-1", f.err
}

func TestEmailNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewEmailNotifier(sender, "ops@example.com, sales@example.com,")

	reg := &storage.Registration{
		ID:          "reg-9",
		CompanyName: "Acme <Growth>",
		ContactName: "Jane Doe",
		Email:       "jane@acme.io",
		ListingType: "agency",
		TeamSize:    12,
		Categories:  []string{"SEO", "Paid Ads"},
		Message:     "Hello",
	}
	require.NoError(t, n.NotifyRegistration(context.Background(), reg, storage.RegistrationCount{Total: 7}))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, []string{"ops@example.com", "sales@example.com"}, msg.To)
	assert.Equal(t, "jane@acme.io", msg.ReplyTo)
	assert.Equal(t, "New agency marketplace registration: Acme <Growth>", msg.Subject)
	assert.Contains(t, msg.HTML, "Acme &lt;Growth&gt;")
	assert.Contains(t, msg.HTML, "SEO, Paid Ads")
	assert.Contains(t, msg.Text, "Team size:  12")
	assert.Contains(t, msg.Text, "Website:    -")
	assert.Contains(t, msg.Text, "Registration reg-9 (7 total)")

	sender.err = errors.New("ses down")
	assert.ErrorIs(t, n.NotifyRegistration(context.Background(), reg, storage.RegistrationCount{}), sender.err)
}
