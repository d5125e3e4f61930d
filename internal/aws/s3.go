// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"fmt"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options overrides parts of the default credential and region chain. The
// zero value inherits the shell's AWS setup (AWS_PROFILE, ~/.aws, env, IMDS).
type Options struct {
	Profile string
	Region  string
	// Endpoint targets an S3-compatible service. Setting it also switches
	// the client to path-style addressing.
	Endpoint string
}

func (o Options) loadOptions() []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if o.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	return opts
}

// S3Options returns the service options implied by o.
func (o Options) S3Options() []func(*s3v2.Options) {
	if o.Endpoint == "" {
		return nil
	}
	return []func(*s3v2.Options){
		func(so *s3v2.Options) {
			so.BaseEndpoint = awsv2.String(o.Endpoint)
			so.UsePathStyle = true
		},
	}
}

// NewS3 loads the AWS config and returns an S3 client.
func NewS3(ctx context.Context, o Options) (*s3v2.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, o.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debugf("aws region=%s profile=%s endpoint=%s", cfg.Region, o.Profile, o.Endpoint)
	return s3v2.NewFromConfig(cfg, o.S3Options()...), nil
}
