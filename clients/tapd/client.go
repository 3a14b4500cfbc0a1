package tapd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

// Config holds connection configuration.
type Config struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string
}

// Client holds the authenticated tapd connection used for payouts.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a new Tapd Client.
func New(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macaroon: %w", err)
	}

	conn, err := grpc.NewClient(cfg.Host,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(NewMacaroonCredential(mac)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tapd: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Conn is the underlying connection, for building RPC clients.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// MacaroonCredential implements grpc.PerRPCCredentials.
type MacaroonCredential struct {
	Macaroon *macaroon.Macaroon
}

func NewMacaroonCredential(mac *macaroon.Macaroon) *MacaroonCredential {
	return &MacaroonCredential{Macaroon: mac}
}

func (m *MacaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	macBytes, err := m.Macaroon.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"macaroon": hex.EncodeToString(macBytes),
	}, nil
}

func (m *MacaroonCredential) RequireTransportSecurity() bool {
	return true
}
