package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"storage-kit-hub/internal/daemon"
)

// Status is the outcome of one backend probe.
type Status struct {
	Backend   string    `json:"backend"`
	Type      string    `json:"type"`
	Healthy   bool      `json:"healthy"`
	Simulated bool      `json:"simulated"`
	Latency   string    `json:"latency"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker probes a single backend. Implementations never return an error;
// failures are reported as an unhealthy Status.
type Checker interface {
	Check(ctx context.Context) Status
}

func finish(st Status, started time.Time) Status {
	st.Latency = time.Since(started).Round(time.Millisecond).String()
	st.CheckedAt = started.UTC()
	return st
}

// LotusChecker is healthy when the node reports a chain head.
type LotusChecker struct {
	Name   string
	Client *daemon.LotusClient
}

func (c *LotusChecker) Check(ctx context.Context) Status {
	started := time.Now()
	st := Status{Backend: c.Name, Type: "lotus"}
	head, err := c.Client.ChainHead(ctx)
	if err != nil {
		st.Detail = err.Error()
		return finish(st, started)
	}
	st.Healthy = true
	st.Simulated = head.Source == daemon.SourceSimulated
	st.Detail = fmt.Sprintf("height %d via %s", head.Height, head.Source)
	return finish(st, started)
}

// IPFSChecker is healthy when the node answers /api/v0/version.
type IPFSChecker struct {
	Name   string
	Client *daemon.IPFSClient
}

func (c *IPFSChecker) Check(ctx context.Context) Status {
	started := time.Now()
	st := Status{Backend: c.Name, Type: "ipfs"}
	v, err := c.Client.Version(ctx)
	if err != nil {
		st.Detail = err.Error()
		return finish(st, started)
	}
	st.Healthy = true
	st.Simulated = v.Source == daemon.SourceSimulated
	st.Detail = fmt.Sprintf("kubo %s via %s", v.Version, v.Source)
	return finish(st, started)
}

// S3API is the slice of the S3 client the checker needs.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Checker is healthy when HeadBucket succeeds.
type S3Checker struct {
	Name   string
	Bucket string
	Client S3API
}

// NewS3Checker builds an S3 client from the default AWS credential chain.
// endpoint, when set, points at an S3-compatible service using path-style addressing.
func NewS3Checker(ctx context.Context, name, bucket, region, endpoint string) (*S3Checker, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend %s: bucket setting is required", name)
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Checker{Name: name, Bucket: bucket, Client: client}, nil
}

func (c *S3Checker) Check(ctx context.Context) Status {
	started := time.Now()
	st := Status{Backend: c.Name, Type: "s3"}
	if _, err := c.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.Bucket)}); err != nil {
		st.Detail = err.Error()
		return finish(st, started)
	}
	st.Healthy = true
	st.Detail = "bucket " + c.Bucket + " reachable"
	return finish(st, started)
}

// HTTPChecker is healthy when GET URL answers 2xx or 3xx.
type HTTPChecker struct {
	Name   string
	Type   string
	URL    string
	Client *http.Client
}

func (c *HTTPChecker) Check(ctx context.Context) Status {
	started := time.Now()
	st := Status{Backend: c.Name, Type: c.Type}
	if c.URL == "" {
		st.Detail = "no endpoint configured"
		return finish(st, started)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		st.Detail = err.Error()
		return finish(st, started)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Detail = err.Error()
		return finish(st, started)
	}
	resp.Body.Close()
	st.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
	st.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return finish(st, started)
}

// unavailable reports a checker that could not even be built.
type unavailable struct {
	name, typ, reason string
}

func (u unavailable) Check(context.Context) Status {
	return finish(Status{Backend: u.name, Type: u.typ, Detail: u.reason}, time.Now())
}
