package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.endpoint, tt.ssl))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NotFound", "404"} {
		err := fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: code})
		assert.True(t, isNotFound(err), code)
	}
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("dial tcp: refused")))

	missing := &smithy.GenericAPIError{Code: "NoSuchKey"}
	assert.ErrorIs(t, notFoundAs(missing, domain.ErrNotFound), domain.ErrNotFound)
	other := errors.New("boom")
	assert.Equal(t, other, notFoundAs(other, domain.ErrNotFound))
}

func TestClientConfig_Validate(t *testing.T) {
	ok := ClientConfig{Bucket: "wager-archive", Region: "us-east-1"}
	assert.NoError(t, ok.validate())
	assert.Len(t, ok.loadOptions(), 1)

	keyed := ok
	keyed.AccessKey, keyed.SecretKey = "ak", "sk"
	assert.NoError(t, keyed.validate())
	assert.Len(t, keyed.loadOptions(), 2)

	half := ok
	half.AccessKey = "ak"
	assert.Error(t, half.validate())

	assert.Error(t, ClientConfig{Region: "us-east-1"}.validate())
	assert.Error(t, ClientConfig{Bucket: "b"}.validate())
}
