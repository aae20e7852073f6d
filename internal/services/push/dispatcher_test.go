package push_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"readstate_backend/internal/services/push"
	"readstate_backend/internal/services/push/mocks"
	"readstate_backend/pkg/apperrors"
)

var chatNotification = push.Notification{
	Title: "Alice",
	Body:  "hi there",
	Data:  map[string]string{"chatId": "C1", "url": "/messages/C1"},
}

func TestDispatch_PartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)

	provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), []string{"t1", "t2"}).
		DoAndReturn(func(_ context.Context, p push.Payload, _ []string) (*push.MulticastResult, error) {
			assert.Equal(t, "C1", p.Tag)
			assert.Equal(t, "/messages/C1", p.Link)
			assert.True(t, p.Renotify)
			return &push.MulticastResult{Responses: []push.TokenResponse{
				{Success: true},
				{Success: false, Reason: push.ReasonInvalidToken},
			}}, nil
		}).
		Times(1)

	d := push.NewDispatcher(provider, 500)
	res, err := d.Dispatch(context.Background(), chatNotification, []string{"t1", "t2"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, []push.TokenResult{
		{Token: "t1", Delivered: true},
		{Token: "t2", Delivered: false, Reason: push.ReasonInvalidToken},
	}, res.Results)
	assert.Equal(t, []string{"t2"}, res.FailedTokens())
}

func TestDispatch_DeduplicatesTokens(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)

	provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), []string{"t1", "t2"}).
		Return(&push.MulticastResult{Responses: []push.TokenResponse{{Success: true}, {Success: true}}}, nil)

	d := push.NewDispatcher(provider, 2)
	res, err := d.Dispatch(context.Background(), chatNotification, []string{"t1", "t2", "t1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
}

func TestDispatch_RejectsWithoutCallingProvider(t *testing.T) {
	cases := map[string]struct {
		n      push.Notification
		tokens []string
	}{
		"no tokens":       {chatNotification, nil},
		"empty slice":     {chatNotification, []string{}},
		"blank token":     {chatNotification, []string{"t1", " "}},
		"no title":        {push.Notification{Body: "b"}, []string{"t1"}},
		"no body":         {push.Notification{Title: "t"}, []string{"t1"}},
		"too many tokens": {chatNotification, []string{"a", "b", "c"}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			provider := mocks.NewMockProvider(ctrl)
			provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			d := push.NewDispatcher(provider, 2)
			_, err := d.Dispatch(context.Background(), tc.n, tc.tokens)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
		})
	}
}

func TestDispatch_ProviderDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("503 from upstream")).
		Times(1)

	d := push.NewDispatcher(provider, 500)
	_, err := d.Dispatch(context.Background(), chatNotification, []string{"t1"})
	require.Error(t, err)
	assert.True(t, push.IsUnavailable(err))

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 500, appErr.HTTPCode)
}

func TestDispatch_ShortProviderResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&push.MulticastResult{Responses: []push.TokenResponse{{Success: true}}}, nil)

	d := push.NewDispatcher(provider, 500)
	_, err := d.Dispatch(context.Background(), chatNotification, []string{"t1", "t2"})
	assert.True(t, push.IsUnavailable(err))
}

func TestBuildPayload_Defaults(t *testing.T) {
	p := push.BuildPayload(push.Notification{Title: "t", Body: "b"})
	assert.Equal(t, push.DefaultTag, p.Tag)
	assert.Equal(t, push.DefaultLink, p.Link)
	assert.True(t, p.Renotify)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, push.ActionOpen, p.Actions[0].Action)
	assert.Equal(t, push.ActionClose, p.Actions[1].Action)
	assert.NotNil(t, p.Data)
}

func TestLoggingProvider_AcceptsEverything(t *testing.T) {
	d := push.NewDispatcher(push.NewLoggingProvider(discardLogger()), 0)
	res, err := d.Dispatch(context.Background(), chatNotification, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 500, d.MaxTokens())
}

func TestDispatchResult_Merge(t *testing.T) {
	total := &push.DispatchResult{}
	total.Merge(&push.DispatchResult{SuccessCount: 1, Results: []push.TokenResult{{Token: "a", Delivered: true}}})
	total.Merge(&push.DispatchResult{FailureCount: 1, Results: []push.TokenResult{{Token: "b", Reason: push.ReasonRejected}}})
	total.Merge(nil)

	assert.Equal(t, 1, total.SuccessCount)
	assert.Equal(t, 1, total.FailureCount)
	assert.Equal(t, []string{"b"}, total.FailedTokens())
}
