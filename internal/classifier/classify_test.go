package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}

func statusError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("upstream said no"),
	}
}

func TestClassify_APICodes(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{"ThrottlingException", Throttled},
		{"Throttling", Throttled},
		{"RequestLimitExceeded", Throttled},
		{"TooManyRequestsException", Throttled},
		{"ProvisionedThroughputExceededException", Throttled},
		{"AccessDenied", PermissionDenied},
		{"AccessDeniedException", PermissionDenied},
		{"UnauthorizedOperation", PermissionDenied},
		{"AuthFailure", PermissionDenied},
		{"InvalidClientTokenId", PermissionDenied},
		{"NoSuchEntity", NotFound},
		{"ResourceNotFoundException", NotFound},
		{"InvalidVpcID.NotFound", NotFound},
		{"ServiceUnavailable", ServiceUnavailable},
		{"InternalError", ServiceUnavailable},
		{"RequestTimeout", Timeout},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(apiError(tt.code, "msg")))
		})
	}
}

func TestClassify_HTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{429, Throttled},
		{401, PermissionDenied},
		{403, PermissionDenied},
		{404, NotFound},
		{408, Timeout},
		{504, Timeout},
		{500, ServiceUnavailable},
		{503, ServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(statusError(tt.status)))
		})
	}
}

func TestClassify_Transport(t *testing.T) {
	send := &smithyhttp.RequestSendError{Err: errors.New("connect refused")}
	assert.Equal(t, NetworkOrDispatch, Classify(fmt.Errorf("list: %w", send)))

	dns := &net.DNSError{Err: "no such host", Name: "ec2.invalid"}
	assert.Equal(t, NetworkOrDispatch, Classify(dns))

	op := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	assert.Equal(t, NetworkOrDispatch, Classify(op))
}

func TestClassify_ContextErrors(t *testing.T) {
	assert.Equal(t, Timeout, Classify(fmt.Errorf("describe: %w", context.DeadlineExceeded)))
	assert.Equal(t, Unknown, Classify(context.Canceled))
}

func TestClassify_MessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"Rate exceeded while listing", Throttled},
		{"operation timed out", Timeout},
		{"DispatchFailure: io error", NetworkOrDispatch},
		{"connection reset by peer", NetworkOrDispatch},
		{"HTTP 503", ServiceUnavailable},
		{"User is not authorized to perform this action", PermissionDenied},
		{"the bucket does not exist", NotFound},
		{"something odd", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
}

func TestWrap_KeepsExistingClassification(t *testing.T) {
	orig := New(PermissionDenied, "AccessDenied", "role cannot be assumed")
	wrapped := fmt.Errorf("get credentials: %w", orig)

	got := Wrap(wrapped)
	assert.Same(t, orig, got)
	assert.Equal(t, PermissionDenied, Classify(wrapped))
}

func TestWrap_CapturesCodeAndMessage(t *testing.T) {
	err := Wrap(fmt.Errorf("describe instances: %w", apiError("UnauthorizedOperation", "You are not authorized")))

	require.NotNil(t, err)
	assert.Equal(t, PermissionDenied, err.Category)
	assert.Equal(t, "UnauthorizedOperation", err.Code)
	assert.Equal(t, "You are not authorized", err.Message)
	assert.Equal(t, "PermissionDenied: UnauthorizedOperation: You are not authorized", err.Error())
	assert.Nil(t, Wrap(nil))
}

func TestWithCategory(t *testing.T) {
	err := WithCategory(errors.New("broker refused"), PermissionDenied)

	assert.Equal(t, PermissionDenied, err.Category)
	assert.Equal(t, "broker refused", err.Message)
	assert.Nil(t, WithCategory(nil, Timeout))
}

func TestError_ShortMessageTruncates(t *testing.T) {
	err := New(Unknown, strings.Repeat("C", 150), strings.Repeat("m", 500))

	assert.Len(t, []rune(err.Code), maxCodeLen)
	assert.Len(t, []rune(err.ShortMessage()), maxMessageLen)
	assert.True(t, strings.HasSuffix(err.ShortMessage(), "..."))
}

func TestCategory_TextRoundTrip(t *testing.T) {
	for _, c := range Categories() {
		b, err := c.MarshalText()
		require.NoError(t, err)

		var got Category
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("Bogus")
	assert.Error(t, err)
}

func TestCategory_Transient(t *testing.T) {
	assert.True(t, Throttled.Transient())
	assert.True(t, ServiceUnavailable.Transient())
	assert.False(t, PermissionDenied.Transient())
	assert.False(t, Unknown.Transient())
}
