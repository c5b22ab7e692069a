// Package security holds the TLS settings shared by the ingestion server
// and the outbound merge client.
package security

// Config is the security section of the service configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig splits server and client settings.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerTLSConfig configures the HTTP listener.
type ServerTLSConfig struct {
	Enabled    bool             `json:"enabled"`
	CertFile   string           `json:"cert_file,omitempty"`
	KeyFile    string           `json:"key_file,omitempty"`
	MinVersion string           `json:"min_version,omitempty"` // "1.2" or "1.3"
	MTLS       ServerMTLSConfig `json:"mtls,omitempty"`
}

// ServerMTLSConfig configures client certificate checks on the listener.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig configures outbound HTTPS. CAFiles are trusted in
// addition to the system pool.
type ClientTLSConfig struct {
	CAFiles            []string         `json:"ca_files,omitempty"`
	InsecureSkipVerify bool             `json:"insecure_skip_verify,omitempty"` // dev only
	MinVersion         string           `json:"min_version,omitempty"`
	MTLS               ClientMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies a client certificate.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Customized reports whether any client setting differs from the defaults,
// in which case a dedicated transport is needed.
func (c ClientTLSConfig) Customized() bool {
	return len(c.CAFiles) > 0 || c.InsecureSkipVerify || c.MinVersion != "" || c.MTLS.Enabled
}
