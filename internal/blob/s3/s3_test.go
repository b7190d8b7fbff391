package s3blob

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"http://minio:9000", true, "http://minio:9000"},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.idrivee2.com", true, "https://e2.idrivee2.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.in, tt.useSSL))
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
	assert.Contains(t, err.Error(), "region is required")

	_, err = New(context.Background(), ClientConfig{Bucket: "b", Region: "us-east-1", AccessKey: "only-half"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set together")
}

func TestS3Options(t *testing.T) {
	var o s3.Options
	for _, fn := range s3Options(ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true}) {
		fn(&o)
	}
	require.NotNil(t, o.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *o.BaseEndpoint)
	assert.True(t, o.UsePathStyle)

	assert.Empty(t, s3Options(ClientConfig{}))
}

func TestClampPartSize(t *testing.T) {
	assert.Equal(t, minPartSize, clampPartSize(0))
	assert.Equal(t, minPartSize, clampPartSize(1024))
	assert.Equal(t, int64(64<<20), clampPartSize(64<<20))
}

const listPage = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>arb</Name><Prefix>archive/observations/</Prefix><MaxKeys>1000</MaxKeys>
<IsTruncated>%t</IsTruncated>%s
<Contents><Key>%s</Key><Size>10</Size></Contents>
</ListBucketResult>`

func TestWriterListFollowsContinuation(t *testing.T) {
	var prefixes, tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/arb", r.URL.Path)
		assert.Equal(t, "2", q.Get("list-type"))
		prefixes = append(prefixes, q.Get("prefix"))
		tokens = append(tokens, q.Get("continuation-token"))

		w.Header().Set("Content-Type", "application/xml")
		if q.Get("continuation-token") == "" {
			fmt.Fprintf(w, listPage, true, "<NextContinuationToken>page2</NextContinuationToken>",
				"archive/observations/20241001T030000Z.jsonl")
			return
		}
		fmt.Fprintf(w, listPage, false, "", "archive/observations/20241002T030000Z.jsonl")
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "arb",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	keys, err := NewWriter(c).List(context.Background(), "archive/observations/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"archive/observations/20241001T030000Z.jsonl",
		"archive/observations/20241002T030000Z.jsonl",
	}, keys)
	assert.Equal(t, []string{"archive/observations/", "archive/observations/"}, prefixes)
	assert.Equal(t, []string{"", "page2"}, tokens)
}

func TestWriterListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint: srv.URL, Region: "us-east-1", Bucket: "arb",
		AccessKey: "key", SecretKey: "secret", ForcePathStyle: true,
	})
	require.NoError(t, err)

	_, err = NewWriter(c).List(context.Background(), "p/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3blob: list p/")
}
