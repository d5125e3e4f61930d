// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_S3Options(t *testing.T) {
	assert.Empty(t, Options{}.S3Options())

	var so s3v2.Options
	for _, fn := range (Options{Endpoint: "http://127.0.0.1:9000"}).S3Options() {
		fn(&so)
	}
	assert.Equal(t, "http://127.0.0.1:9000", awsv2.ToString(so.BaseEndpoint))
	assert.True(t, so.UsePathStyle)
}

func TestOptions_LoadOptions(t *testing.T) {
	assert.Empty(t, Options{}.loadOptions())
	assert.Len(t, Options{Profile: "site", Region: "us-east-1"}.loadOptions(), 2)
}

func TestNewS3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	client, err := NewS3(context.Background(), Options{Region: "us-east-1", Endpoint: "http://127.0.0.1:9000"})
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, "us-east-1", client.Options().Region)
	assert.True(t, client.Options().UsePathStyle)
}
