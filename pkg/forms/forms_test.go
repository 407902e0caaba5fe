package forms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkarlslund/proxydesk/pkg/backend"
)

func f64(v float64) *float64 { return &v }

func TestBillingRuleConditionalPrices(t *testing.T) {
	perToken := BillingRuleForm{Name: "gpt", ModelPattern: "gpt-*", BillingMode: backend.BillingPerToken, InputPrice: f64(1)}
	err := Validate(perToken)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "output price is required for per-token billing", err.Error())

	perToken.OutputPrice = f64(2)
	assert.NoError(t, Validate(perToken))

	perRequest := BillingRuleForm{Name: "img", ModelPattern: "dall-e", BillingMode: backend.BillingPerRequest}
	err = Validate(perRequest)
	require.Error(t, err)
	assert.Equal(t, "request price is required for per-request billing", err.Error())

	perRequest.RequestPrice = f64(0)
	assert.NoError(t, Validate(perRequest))

	perRequest.RequestPrice = f64(-1)
	assert.EqualError(t, Validate(perRequest), "request price must not be negative")
}

func TestBillingRuleModeAndRequired(t *testing.T) {
	assert.EqualError(t, Validate(BillingRuleForm{ModelPattern: "x", BillingMode: "per_token"}), "name is required")
	err := Validate(BillingRuleForm{Name: "a", ModelPattern: "x", BillingMode: "monthly"})
	assert.EqualError(t, err, "billing mode must be one of: per_token, per_request")
	err = Validate(BillingRuleForm{Name: "a", ModelPattern: "x", BillingMode: "per_request", RequestPrice: f64(1), GroupIDs: []int64{0}})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "groups must be greater than 0", ve.Message)
}

func TestBillingRulePayloadDropsOtherModePrices(t *testing.T) {
	f := BillingRuleForm{Name: " n ", ModelPattern: "m", BillingMode: "per_request", InputPrice: f64(3), RequestPrice: f64(0.5)}
	p := f.Payload()
	assert.Equal(t, "n", p.Name)
	assert.Zero(t, p.InputPrice)
	assert.Equal(t, 0.5, p.RequestPrice)

	back := FromBillingRule(p)
	assert.Nil(t, back.InputPrice)
	require.NotNil(t, back.RequestPrice)
	assert.Equal(t, 0.5, *back.RequestPrice)
}

func TestUserPasswordRules(t *testing.T) {
	create := UserForm{Creating: true, Username: "alice", Role: "user"}
	assert.EqualError(t, Validate(create), "password is required")
	create.Password = "short"
	assert.EqualError(t, Validate(create), "password must be at least 8 characters")
	create.Password = "longenough"
	assert.NoError(t, Validate(create))
	assert.Equal(t, "longenough", create.Payload()["password"])

	update := UserForm{ID: 3, Username: "alice", Role: "admin"}
	assert.NoError(t, Validate(update))
	_, has := update.Payload()["password"]
	assert.False(t, has)

	update.Email = "nope"
	assert.EqualError(t, Validate(update), "email must be a valid email address")
}

func TestProviderKeyRules(t *testing.T) {
	create := ProviderKeyForm{Creating: true, Provider: "openai", Name: "main", Weight: 1}
	assert.EqualError(t, Validate(create), "API key is required")
	create.APIKey = "sk-1"
	create.Weight = 0
	assert.EqualError(t, Validate(create), "weight must be greater than 0")
	create.Weight = 10
	create.BaseURL = "not a url"
	assert.EqualError(t, Validate(create), "base URL must be a valid URL")

	update := ProviderKeyForm{ID: 1, Provider: "openai", Name: "main", Weight: 5}
	assert.NoError(t, Validate(update))
	_, has := update.Payload()["api_key"]
	assert.False(t, has)
}

func TestPrepaidBatchRules(t *testing.T) {
	assert.EqualError(t, Validate(PrepaidBatchForm{Amount: 5}), "count is required")
	assert.EqualError(t, Validate(PrepaidBatchForm{Count: 5000, Amount: 5}), "count must be at most 1000")
	assert.EqualError(t, Validate(PrepaidBatchForm{Count: 5, Amount: 5, Prefix: "a-b"}), "prefix may only contain letters and digits")
	b := PrepaidBatchForm{Count: 5, Amount: 5, Prefix: "vip"}
	require.NoError(t, Validate(b))
	assert.Equal(t, "VIP", b.Payload().Prefix)
}

func TestModalValidationSkipsSubmit(t *testing.T) {
	calls := 0
	m := NewModal(func(context.Context, AuthGroupForm) (backend.AuthGroup, error) {
		calls++
		return backend.AuthGroup{}, nil
	}, nil)
	_, err := m.Submit(context.Background(), AuthGroupForm{})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "name is required", m.Error())
	assert.False(t, m.Submitting())
}

func TestModalBackendErrorAndSuccess(t *testing.T) {
	fail := true
	var patched []backend.AuthGroup
	m := NewModal(func(_ context.Context, f AuthGroupForm) (backend.AuthGroup, error) {
		if fail {
			return backend.AuthGroup{}, &backend.HTTPError{StatusCode: 409, Message: "name taken"}
		}
		return backend.AuthGroup{ID: 5, Name: f.Name}, nil
	}, func(_ AuthGroupForm, g backend.AuthGroup) { patched = append(patched, g) })

	_, err := m.Submit(context.Background(), AuthGroupForm{Name: "team"})
	require.Error(t, err)
	assert.Equal(t, "name taken", m.Error())
	assert.False(t, m.Submitting())

	fail = false
	g, err := m.Submit(context.Background(), AuthGroupForm{Name: "team"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), g.ID)
	assert.Empty(t, m.Error())
	assert.Len(t, patched, 1)
}

func TestModalRejectsDoubleSubmit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := NewModal(func(context.Context, SettingForm) (backend.Setting, error) {
		close(entered)
		<-release
		return backend.Setting{}, errors.New("late failure")
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Submit(context.Background(), SettingForm{Key: "k"})
	}()
	<-entered
	assert.True(t, m.Submitting())
	_, err := m.Submit(context.Background(), SettingForm{Key: "k"})
	assert.ErrorIs(t, err, ErrSubmitting)
	close(release)
	wg.Wait()
	assert.False(t, m.Submitting())
	assert.Equal(t, "late failure", m.Error())
}
