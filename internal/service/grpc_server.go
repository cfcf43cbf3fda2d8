package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	iotago "github.com/iotaledger/iota.go/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/verification"
)

// CallerHeader carries the bech32 identity of the caller. It is only
// honoured in dev mode; otherwise the identity is the common name of the
// verified client certificate.
const CallerHeader = "x-claim-caller"

type GRPCServer struct {
	service     *Service
	rateLimiter *verification.RateLimiter
	grpcServer  *grpc.Server
	bindAddress string
	devMode     bool
}

var _ ClaimEscrowServer = (*GRPCServer)(nil)

// GRPCServerConfig holds configuration for creating a GRPCServer.
type GRPCServerConfig struct {
	BindAddress   string
	TLSEnabled    bool
	TLSCertPath   string
	TLSKeyPath    string
	TLSCACertPath string // CA certificate for verifying client certs (mTLS)
	DevMode       bool   // Allow insecure mode for local development/testing
}

func NewGRPCServer(
	service *Service,
	rateLimiter *verification.RateLimiter,
	config GRPCServerConfig,
) (*GRPCServer, error) {
	if rateLimiter == nil {
		rateLimiter = verification.NewRateLimiter(verification.DefaultRateLimiterConfig())
	}

	s := &GRPCServer{
		service:     service,
		rateLimiter: rateLimiter,
		bindAddress: config.BindAddress,
		devMode:     config.DevMode,
	}

	var opts []grpc.ServerOption
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    20 * time.Second,
		Timeout: 5 * time.Second,
	}))

	if !config.TLSEnabled && !config.DevMode {
		return nil, fmt.Errorf("TLS is required for gRPC server, set TLSEnabled=true or DevMode=true for testing")
	}
	if config.TLSEnabled && config.TLSCACertPath == "" && !config.DevMode {
		return nil, fmt.Errorf("a client CA certificate is required to authenticate callers, set TLSCACertPath")
	}
	if config.TLSEnabled {
		tlsConfig, err := buildMTLSConfig(config.TLSCertPath, config.TLSKeyPath, config.TLSCACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to configure mTLS: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	} else {
		service.LogWarn("gRPC server running in dev mode, TLS not enforced")
	}

	opts = append(opts, grpc.UnaryInterceptor(s.authInterceptor))

	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&claimEscrowServiceDesc, s)

	return s, nil
}

// buildMTLSConfig creates a TLS configuration with mutual TLS 1.3.
// If caCertPath is empty, only server-side TLS is configured (no client cert verification).
func buildMTLSConfig(certPath, keyPath, caCertPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = certPool
	}

	return tlsConfig, nil
}

// rateLimitedMethods are the redemption calls a code guesser would hammer.
var rateLimitedMethods = map[string]bool{
	"/" + ServiceName + "/InitiateClaim": true,
	"/" + ServiceName + "/CompleteClaim": true,
}

func (s *GRPCServer) authInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if !rateLimitedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	key := s.rateLimitKey(ctx)
	if err := s.rateLimiter.Allow(key); err != nil {
		return nil, status.Errorf(codes.ResourceExhausted,
			"rate limit exceeded: retry after %v", s.rateLimiter.RetryAfter(key))
	}

	return handler(ctx, req)
}

// rateLimitKey prefers the authenticated caller and falls back to the peer
// address.
func (s *GRPCServer) rateLimitKey(ctx context.Context) string {
	if identity, ok := s.declaredCaller(ctx); ok {
		return identity
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}

	return "anonymous"
}

// certificateCaller returns the common name of the verified client
// certificate of the connection, if there is one.
func certificateCaller(ctx context.Context) (string, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", false
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", false
	}
	for _, chain := range tlsInfo.State.VerifiedChains {
		if len(chain) > 0 && chain[0].Subject.CommonName != "" {
			return chain[0].Subject.CommonName, true
		}
	}

	return "", false
}

// declaredCaller returns the raw identity of the caller: the verified client
// certificate, or the CallerHeader in dev mode.
func (s *GRPCServer) declaredCaller(ctx context.Context) (string, bool) {
	if identity, ok := certificateCaller(ctx); ok {
		return identity, true
	}
	if !s.devMode {
		return "", false
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	callers := md.Get(CallerHeader)
	if len(callers) == 0 || callers[0] == "" {
		return "", false
	}

	return callers[0], true
}

// callerFrom extracts the caller identity. Methods that act on behalf of a
// caller fail with Unauthenticated when it is missing.
func (s *GRPCServer) callerFrom(ctx context.Context) (iotago.Address, error) {
	identity, ok := s.declaredCaller(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}

	addr, err := s.service.ParseIdentity(identity)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return addr, nil
}

// toStatus maps escrow error kinds onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	switch escrow.KindOf(err) {
	case escrow.KindNotAuthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	case escrow.KindAlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case escrow.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case escrow.KindInvalidMetadata, escrow.KindInvalidAmount:
		return status.Error(codes.InvalidArgument, err.Error())
	case escrow.KindAttemptsExhausted:
		return status.Error(codes.ResourceExhausted, err.Error())
	case escrow.KindExpired:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.bindAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (s *GRPCServer) Serve(listener net.Listener) error {
	return s.grpcServer.Serve(listener)
}

func (s *GRPCServer) Stop() {
	s.grpcServer.GracefulStop()
	s.rateLimiter.Stop()
}

func (s *GRPCServer) CreateRegistry(ctx context.Context, req *CreateRegistryMessage) (*RegistryResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := s.service.CreateRegistry(ctx, caller, escrow.RegistryParams{
		MerchantName:             req.MerchantName,
		MerchantID:               req.MerchantID,
		DefaultExpiryHours:       req.DefaultExpiryHours,
		RequireMerchantSignature: req.RequireMerchantSignature,
		MerchantPublicKey:        req.MerchantPublicKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &RegistryResponse{Registry: registry}, nil
}

func (s *GRPCServer) CreateClaim(ctx context.Context, req *CreateClaimMessage) (*ClaimResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	var asset custody.AssetHandle
	switch req.AssetKind {
	case escrow.AssetKindCollectible:
		asset = custody.Collectible{ObjectID: req.AssetID}
	case escrow.AssetKindFungible:
		if req.AssetAmount == 0 {
			return nil, status.Error(codes.InvalidArgument, "asset_amount must be positive for fungible assets")
		}
		asset = custody.FungibleBalance{TokenID: req.AssetID, Amount: req.AssetAmount}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown asset kind %q", req.AssetKind)
	}

	claim, err := s.service.CreateClaim(ctx, caller, &CreateClaimRequest{
		RegistryID:         req.RegistryID,
		ClaimCode:          req.ClaimCode,
		Asset:              asset,
		PurchaseReference:  req.PurchaseReference,
		PurchaseAmountFiat: req.PurchaseAmountFiat,
		FiatCurrency:       req.FiatCurrency,
		Display:            req.Display,
		CustomExpiryHours:  req.CustomExpiryHours,
		PIN:                req.PIN,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: newClaimView(claim, s.service.now())}, nil
}

func (s *GRPCServer) InitiateClaim(ctx context.Context, req *InitiateClaimMessage) (*TicketResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	ticket, err := s.service.InitiateClaim(ctx, caller, req.ClaimID, req.ClaimCode, req.Proof)
	if err != nil {
		return nil, toStatus(err)
	}

	return &TicketResponse{
		TicketID:  ticket.ID,
		ClaimID:   ticket.ClaimEscrowID,
		ExpiresAt: ticket.ExpiresAt,
	}, nil
}

func (s *GRPCServer) CompleteClaim(ctx context.Context, req *CompleteClaimMessage) (*ClaimResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	claim, err := s.service.CompleteClaim(ctx, caller, req.TicketID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: newClaimView(claim, s.service.now())}, nil
}

func (s *GRPCServer) CancelClaim(ctx context.Context, req *CancelClaimMessage) (*ClaimResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	claim, err := s.service.CancelClaim(ctx, caller, req.ClaimID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: newClaimView(claim, s.service.now())}, nil
}

func (s *GRPCServer) ExtendClaimExpiry(ctx context.Context, req *ExtendClaimMessage) (*ClaimResponse, error) {
	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	claim, err := s.service.ExtendClaimExpiry(ctx, caller, req.ClaimID, req.AdditionalHours)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: newClaimView(claim, s.service.now())}, nil
}

func (s *GRPCServer) ExpireClaim(ctx context.Context, req *ClaimIDMessage) (*ClaimResponse, error) {
	claim, err := s.service.ExpireClaim(ctx, req.ClaimID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: newClaimView(claim, s.service.now())}, nil
}

func (s *GRPCServer) GetClaim(ctx context.Context, req *ClaimIDMessage) (*ClaimResponse, error) {
	view, err := s.service.ClaimView(ctx, req.ClaimID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{Claim: view}, nil
}

func (s *GRPCServer) ListClaims(ctx context.Context, req *RegistryIDMessage) (*ClaimListResponse, error) {
	views, err := s.service.ListClaims(ctx, req.RegistryID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimListResponse{Claims: views}, nil
}

func (s *GRPCServer) GetRegistry(ctx context.Context, req *RegistryIDMessage) (*RegistryResponse, error) {
	registry, err := s.service.GetRegistry(ctx, req.RegistryID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &RegistryResponse{Registry: registry}, nil
}

func (s *GRPCServer) GetStats(ctx context.Context, req *RegistryIDMessage) (*StatsResponse, error) {
	stats, err := s.service.Stats(ctx, req.RegistryID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &StatsResponse{Stats: stats}, nil
}

func (s *GRPCServer) ClaimExists(ctx context.Context, req *ClaimExistsMessage) (*ClaimExistsResponse, error) {
	exists, err := s.service.ClaimExists(ctx, req.RegistryID, req.ClaimCode)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimExistsResponse{Exists: exists}, nil
}
