package config

import "errors"

var (
	ErrMissingOpenAIKey     = errors.New("openai.api_key (OPENAI_API_KEY) is required")
	ErrMissingVirusTotalKey = errors.New("virustotal.api_key (VT_API_KEY) is required")
	ErrMissingURLScanKey    = errors.New("urlscan.api_key (URLSCAN_API_KEY) is required")
	ErrInvalidDocumentURL   = errors.New("services.document_url (DOCUMENT_SERVICE_URL) must be an absolute URL")
	ErrUnsupportedDriver    = errors.New("unsupported database driver")
	ErrInvalidPort          = errors.New("server.port must be between 1 and 65535")
)
