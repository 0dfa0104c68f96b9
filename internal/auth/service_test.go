package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shetmall-auth/internal/auth"
	"shetmall-auth/internal/password"
	"shetmall-auth/internal/token"
	"shetmall-auth/internal/users"
)

type fakeUploader struct {
	mu    sync.Mutex
	url   string
	err   error
	block bool
	calls int
}

func (f *fakeUploader) UploadImage(ctx context.Context, source string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.url, f.err
}

func (f *fakeUploader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type blockingStore struct {
	*users.MemoryStore
}

func (b blockingStore) FindByEmailOrPhone(ctx context.Context, _, _ string) (auth.User, error) {
	<-ctx.Done()
	return auth.User{}, ctx.Err()
}

type fixture struct {
	service  *auth.Service
	store    *users.MemoryStore
	uploader *fakeUploader
	issuer   *token.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)

	store := users.NewMemoryStore()
	uploader := &fakeUploader{url: "https://res.cloudinary.com/demo/avatar.png"}

	return &fixture{
		service:  auth.NewService(store, hasher, issuer, uploader),
		store:    store,
		uploader: uploader,
		issuer:   issuer,
	}
}

func validRegistration() auth.RegisterInput {
	return auth.RegisterInput{
		Name:        "Ann",
		Surname:     "Lee",
		Email:       "a@x.com",
		Password:    "secret123",
		PhoneNumber: "9990001111",
		Age:         "30",
		Gender:      "female",
		Address:     "1 Main St",
		State:       "Karnataka",
		District:    "Bengaluru Urban",
		Subdistrict: "North",
		PinCode:     "560001",
		Avatar:      "data:image/png;base64,AAAA",
	}
}

func (f *fixture) register(t *testing.T) auth.PublicUser {
	t.Helper()
	user, err := f.service.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	return user
}

func (f *fixture) login(t *testing.T) auth.Session {
	t.Helper()
	session, err := f.service.Login(context.Background(), auth.LoginInput{Email: "a@x.com", Password: "secret123"})
	require.NoError(t, err)
	return session
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)

	user := f.register(t)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "https://res.cloudinary.com/demo/avatar.png", user.Avatar)
	assert.Equal(t, 30, user.Age)
	assert.Equal(t, 560001, user.PinCode)

	session := f.login(t)
	assert.Equal(t, user.ID, session.User.ID)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	encoded, err := json.Marshal(session.User)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "password")
	assert.NotContains(t, string(encoded), "refresh")
	assert.NotContains(t, string(encoded), "$2a$")

	claims, err := f.issuer.Verify(session.AccessToken, token.Access)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "Ann", claims.Name)

	stored, err := f.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, session.RefreshToken, *stored.RefreshToken)
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	in := validRegistration()
	in.PhoneNumber = "1112223333"
	_, err := f.service.Register(context.Background(), in)
	assert.ErrorIs(t, err, auth.ErrConflict)
	assert.Equal(t, 1, f.store.Len())
}

func TestRegister_DuplicatePhoneConflicts(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	in := validRegistration()
	in.Email = "b@x.com"
	_, err := f.service.Register(context.Background(), in)
	assert.ErrorIs(t, err, auth.ErrConflict)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 1, f.uploader.Calls())
}

func TestRegister_OutOfRangeNumbers(t *testing.T) {
	cases := map[string]struct {
		mutate func(*auth.RegisterInput)
		field  string
	}{
		"age overflows int32": {func(in *auth.RegisterInput) { in.Age = "99999999999" }, "age"},
		"negative age":        {func(in *auth.RegisterInput) { in.Age = "-5" }, "age"},
		"zero age":            {func(in *auth.RegisterInput) { in.Age = "0" }, "age"},
		"age above bound":     {func(in *auth.RegisterInput) { in.Age = "151" }, "age"},
		"fractional age":      {func(in *auth.RegisterInput) { in.Age = "30.5" }, "age"},
		"long pin code":       {func(in *auth.RegisterInput) { in.PinCode = "99999999999" }, "pin_code"},
		"short pin code":      {func(in *auth.RegisterInput) { in.PinCode = "5600" }, "pin_code"},
		"signed pin code":     {func(in *auth.RegisterInput) { in.PinCode = "-56000" }, "pin_code"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			in := validRegistration()
			tc.mutate(&in)

			_, err := f.service.Register(context.Background(), in)
			require.ErrorIs(t, err, auth.ErrValidation)

			var validationErr *auth.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, []string{tc.field}, validationErr.Fields)

			status, _ := auth.Describe(err)
			assert.Equal(t, 400, status)
			assert.Zero(t, f.uploader.Calls())
			assert.Zero(t, f.store.Len())
		})
	}
}

func TestRegister_AgeBoundsAccepted(t *testing.T) {
	for _, age := range []string{"1", "150"} {
		f := newFixture(t)
		in := validRegistration()
		in.Age = age

		_, err := f.service.Register(context.Background(), in)
		require.NoError(t, err, age)
	}
}

func TestRegister_ValidationListsEveryField(t *testing.T) {
	f := newFixture(t)

	in := validRegistration()
	in.Name = "   "
	in.State = ""
	in.Avatar = ""
	in.Age = "thirty"

	_, err := f.service.Register(context.Background(), in)
	require.ErrorIs(t, err, auth.ErrValidation)

	var validationErr *auth.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.ElementsMatch(t, []string{"name", "state", "avatar", "age"}, validationErr.Fields)
	assert.Zero(t, f.uploader.Calls())
	assert.Zero(t, f.store.Len())
}

func TestRegister_UploadFailures(t *testing.T) {
	cases := map[string]func(*fakeUploader){
		"error":     func(u *fakeUploader) { u.err = errors.New("cloudinary down") },
		"empty url": func(u *fakeUploader) { u.url = "" },
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			setup(f.uploader)

			_, err := f.service.Register(context.Background(), validRegistration())
			assert.ErrorIs(t, err, auth.ErrUpload)
			assert.Zero(t, f.store.Len())
		})
	}
}

func TestRegister_UploadTimeout(t *testing.T) {
	f := newFixture(t)
	f.uploader.block = true
	f.service.WithDependencyTimeout(20 * time.Millisecond)

	_, err := f.service.Register(context.Background(), validRegistration())
	assert.ErrorIs(t, err, auth.ErrDependencyUnavailable)
	assert.Zero(t, f.store.Len())
}

func TestLogin_WrongPasswordDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)

	before, err := f.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)

	_, err = f.service.Login(context.Background(), auth.LoginInput{Email: "a@x.com", Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	after, err := f.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, err := f.service.Login(context.Background(), auth.LoginInput{Password: "secret123"})
	assert.ErrorIs(t, err, auth.ErrValidation)

	_, err = f.service.Login(context.Background(), auth.LoginInput{Email: "nobody@x.com", Password: "secret123"})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = f.service.Login(context.Background(), auth.LoginInput{Email: "a@x.com"})
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestLogin_ByPhoneNumber(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	session, err := f.service.Login(context.Background(), auth.LoginInput{PhoneNumber: "9990001111", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", session.User.Email)
}

func TestLogin_StoreTimeout(t *testing.T) {
	f := newFixture(t)
	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	service := auth.NewService(blockingStore{f.store}, hasher, f.issuer, f.uploader)
	service.WithDependencyTimeout(20 * time.Millisecond)

	_, err = service.Login(context.Background(), auth.LoginInput{Email: "a@x.com", Password: "secret123"})
	assert.ErrorIs(t, err, auth.ErrDependencyUnavailable)
}

func TestRefresh_RotationRejectsReuse(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	first := f.login(t)

	second, err := f.service.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	_, err = f.service.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenReuse)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	third, err := f.service.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)
}

func TestRefresh_NewLoginSupersedesOldSession(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	old := f.login(t)
	f.login(t)

	_, err := f.service.Refresh(context.Background(), old.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenReuse)
}

func TestRefresh_ExpiredTokenStillStored(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	session := f.login(t)
	f.issuer.WithClock(time.Now)

	_, err := f.service.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.NotErrorIs(t, err, auth.ErrTokenReuse)
}

func TestRefresh_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.service.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	access, _, err := f.issuer.IssueAccess(token.Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.service.Refresh(context.Background(), access)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRefresh_UnknownUser(t *testing.T) {
	f := newFixture(t)

	raw, _, err := f.issuer.IssueRefresh("0190f0a8-7c6e-7b3a-9d2e-000000000000")
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), raw)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRefresh_ConcurrentUseOfSameToken(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	session := f.login(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []auth.Tokens
		failures  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := f.service.Refresh(context.Background(), session.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, auth.ErrTokenReuse)
				failures++
				return
			}
			successes = append(successes, tokens)
		}()
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, workers-1, failures)

	_, err := f.service.Refresh(context.Background(), successes[0].RefreshToken)
	assert.NoError(t, err)
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	session := f.login(t)

	require.NoError(t, f.service.Logout(context.Background(), user.ID))
	require.NoError(t, f.service.Logout(context.Background(), user.ID))

	_, err := f.service.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	stored, err := f.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)

	assert.ErrorIs(t, f.service.Logout(context.Background(), ""), auth.ErrUnauthorized)
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)

	got, err := f.service.CurrentUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	_, err = f.service.CurrentUser(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&auth.ValidationError{Fields: []string{"name"}, Reason: "all fields are required"}, 400},
		{auth.ErrConflict, 409},
		{auth.ErrNotFound, 404},
		{auth.ErrTokenReuse, 401},
		{auth.ErrUnauthorized, 401},
		{auth.ErrUpload, 502},
		{auth.ErrDependencyUnavailable, 503},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		status, message := auth.Describe(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.NotEmpty(t, message)
		assert.NotContains(t, message, "boom")
	}
}
