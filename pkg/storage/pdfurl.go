// Package storage resolves the official-source PDF link of a retrieved
// chunk: payload URL first, then treaty and silo fallbacks, then a presigned
// Spaces object when credentials are configured.
package storage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lexmx-backend/pkg/models"
)

const presignExpiry = 15 * time.Minute

// Config holds the Spaces credentials. All fields optional; with no
// credentials only payload URLs and static fallbacks resolve.
type Config struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	CDNDomain string
}

// treatyPDFs maps DDHH treaty origins to their official published texts.
var treatyPDFs = map[string]string{
	"convención americana sobre derechos humanos": "https://www.oas.org/dil/esp/tratados_b-32_convencion_americana_sobre_derechos_humanos.pdf",
	"pacto internacional de derechos civiles y políticos": "https://www.ohchr.org/sites/default/files/ccpr_SP.pdf",
	"pacto internacional de derechos económicos, sociales y culturales": "https://www.ohchr.org/sites/default/files/cescr_SP.pdf",
	"convención sobre los derechos del niño":   "https://www.un.org/es/events/childrenday/pdf/derechos.pdf",
	"convención de belém do pará":              "https://www.oas.org/juridico/spanish/tratados/a-61.html",
}

// PDFResolver builds the best available link for a document.
type PDFResolver struct {
	client    *s3.Client
	presigner *s3.PresignClient
	cfg       *Config
}

// NewPDFResolver creates the resolver. Missing credentials are not an error;
// presigning is simply disabled.
func NewPDFResolver(ctx context.Context, cfg *Config) (*PDFResolver, error) {
	r := &PDFResolver{cfg: cfg}
	if cfg == nil || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return r, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{
				URL:           fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Region),
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	r.client = s3.NewFromConfig(awsCfg)
	r.presigner = s3.NewPresignClient(r.client)
	log.Printf("[STORAGE] PDF presigning enabled for bucket %s", cfg.Bucket)
	return r, nil
}

// slug normalizes an origen into an object-key segment.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", "ü", "u",
		" ", "_", ",", "", ".", "",
	)
	return replacer.Replace(s)
}

// Resolve returns the best PDF link for a document, or "" when none exists.
func (r *PDFResolver) Resolve(ctx context.Context, doc *models.Document) string {
	if doc == nil {
		return ""
	}
	if doc.PDFURL != "" {
		return doc.PDFURL
	}

	if url, ok := treatyPDFs[strings.ToLower(strings.TrimSpace(doc.Origen))]; ok {
		return url
	}

	if doc.Origen == "" {
		return ""
	}
	key := fmt.Sprintf("pdfs/%s/%s.pdf", doc.Silo, slug(doc.Origen))

	if r.cfg != nil && r.cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", r.cfg.CDNDomain, key)
	}

	if r.presigner != nil {
		req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.cfg.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(presignExpiry))
		if err != nil {
			log.Printf("[STORAGE] presign failed for %s: %v", key, err)
			return ""
		}
		return req.URL
	}
	return ""
}
