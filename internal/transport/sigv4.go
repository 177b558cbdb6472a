package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/yairfalse/directquery/pkg/datasource"
)

// emptyPayloadHash is the SHA-256 of an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// sigV4RoundTripper signs every request with AWS Signature Version 4.
type sigV4RoundTripper struct {
	next        http.RoundTripper
	signer      *v4.Signer
	credentials aws.CredentialsProvider
	region      string
	service     string
	now         func() time.Time
}

// newSigV4RoundTripper uses static keys when given and the default AWS
// credential chain otherwise.
func newSigV4RoundTripper(ctx context.Context, next http.RoundTripper, auth AuthConfig) (*sigV4RoundTripper, error) {
	if auth.Region == "" {
		return nil, datasource.Configuration("region is required for auth type %s", AuthSigV4)
	}

	var provider aws.CredentialsProvider
	switch {
	case auth.AccessKey != "" && auth.SecretKey != "":
		provider = credentials.NewStaticCredentialsProvider(auth.AccessKey, auth.SecretKey, "")
	case auth.AccessKey != "" || auth.SecretKey != "":
		return nil, datasource.Configuration("access key and secret key are both required for auth type %s", AuthSigV4)
	default:
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(auth.Region))
		if err != nil {
			return nil, datasource.ConfigurationWrap(err, "load default aws credentials: %v", err)
		}
		provider = cfg.Credentials
	}

	service := auth.Service
	if service == "" {
		service = SigV4Service
	}

	return &sigV4RoundTripper{
		next:        next,
		signer:      v4.NewSigner(),
		credentials: aws.NewCredentialsCache(provider),
		region:      auth.Region,
		service:     service,
		now:         time.Now,
	}, nil
}

func (t *sigV4RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	req = req.Clone(ctx)
	payloadHash, err := hashBody(req)
	if err != nil {
		return nil, err
	}

	if err := t.signer.SignHTTP(ctx, creds, req, payloadHash, t.service, t.region, t.now().UTC()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return t.next.RoundTrip(req)
}

// hashBody hashes and restores the request body.
func hashBody(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return emptyPayloadHash, nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return "", fmt.Errorf("read request body: %w", err)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
