package server

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/datmedevil17/apocalypse/auth"
	"github.com/datmedevil17/apocalypse/session"
	"github.com/datmedevil17/apocalypse/sign"
)

const (
	// defaultTxTTL is how old a transaction may be when it arrives.
	defaultTxTTL = 120 * time.Second
	// clockDriftTolerance is the maximum allowed clock drift in the future.
	clockDriftTolerance = 2 * time.Second
	// cacheRetentionExtra keeps a transaction in the replay cache a little longer than it could be accepted.
	cacheRetentionExtra = 10 * time.Second
	// defaultReplayCacheSize is the replay cache size in bytes.
	defaultReplayCacheSize = 16 * 1024 * 1024
)

var (
	ErrWrongNamespace = eris.New("incorrect namespace")
	ErrTxExpired      = eris.New("transaction has expired")
	ErrReplay         = eris.New("transaction was already submitted")
)

type TransactionReply struct {
	TxHash string `json:"txHash"`
	Result any    `json:"result,omitempty"`
}

// txVerifier checks namespace, age and uniqueness of incoming transactions and recovers their signer.
type txVerifier struct {
	namespace string
	ttl       time.Duration
	now       func() time.Time
	cache     *freecache.Cache
}

func newTxVerifier(namespace string, cacheSize int) *txVerifier {
	return &txVerifier{
		namespace: namespace,
		ttl:       defaultTxTTL,
		now:       time.Now,
		cache:     freecache.NewCache(cacheSize),
	}
}

// verify returns the address that signed tx. A verified transaction is remembered, so submitting it again
// fails with ErrReplay.
func (v *txVerifier) verify(tx *sign.Transaction) (common.Address, error) {
	if tx.Namespace != v.namespace {
		return common.Address{}, eris.Wrapf(ErrWrongNamespace, "expected %q got %q", v.namespace, tx.Namespace)
	}

	now := v.now()
	signedAt := tx.SignedAt()
	if now.After(signedAt.Add(v.ttl)) {
		return common.Address{}, eris.Wrapf(ErrTxExpired, "signed at %s", signedAt)
	}
	if signedAt.After(now.Add(clockDriftTolerance)) {
		return common.Address{}, eris.Wrapf(ErrTxExpired,
			"transaction timestamp is more than %s in the future", clockDriftTolerance)
	}

	hash := tx.Hash()
	if _, err := v.cache.Get(hash.Bytes()); err == nil {
		return common.Address{}, eris.Wrapf(ErrReplay, "transaction %s", hash.Hex())
	}

	signer, err := tx.Signer()
	if err != nil {
		return common.Address{}, eris.Wrap(sign.ErrSignatureValidationFailed, err.Error())
	}

	expirySeconds := int((v.ttl + cacheRetentionExtra).Seconds())
	if err := v.cache.Set(hash.Bytes(), []byte{}, expirySeconds); err != nil {
		return common.Address{}, eris.Wrap(err, "failed to set transaction in replay cache")
	}
	return signer, nil
}

// credential builds the credential tx was signed with. A session id resolves to the authority the session
// acts for; whether the session still holds is decided by the gate on every call.
func (s *Server) credential(
	ctx context.Context, tx *sign.Transaction, signer common.Address,
) (auth.Credential, error) {
	if tx.Session == "" {
		return auth.NewDirect(signer), nil
	}
	id, err := parseSessionID(tx.Session)
	if err != nil {
		return nil, err
	}
	token, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrap(auth.ErrInvalidAuth, err.Error())
	}
	return auth.NewSession(signer, token.Authority, id), nil
}

// parseSessionID decodes a 0x-prefixed 32 byte session id.
func parseSessionID(s string) (common.Hash, error) {
	var id common.Hash
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return common.Hash{}, fiber.NewError(fiber.StatusBadRequest, "session must be a 0x-prefixed 32 byte hex id")
	}
	return id, nil
}

func (s *Server) postTransaction(c *fiber.Ctx) error {
	name := c.Params("name")
	handler, ok := s.txHandlers[name]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no handler registered for "+name)
	}

	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "request body was empty")
	}
	tx, err := sign.Unmarshal(body)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	signer, err := s.verifier.verify(tx)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	cred, err := s.credential(ctx, tx, signer)
	if err != nil {
		return err
	}
	if handler.directOnly {
		if _, isSession := cred.(auth.Session); isSession {
			return eris.Wrapf(auth.ErrInvalidAuth, "%s must be signed by the authority itself", name)
		}
	}

	result, err := handler.run(ctx, cred, tx.Body)
	if err != nil {
		s.logger.Debug().Err(err).Str("tx", name).Str("signer", signer.Hex()).Msg("Transaction rejected")
		return err
	}
	s.hub.Flush()

	return c.JSON(TransactionReply{TxHash: tx.Hash().Hex(), Result: result})
}

type txHandler struct {
	// directOnly transactions cannot be signed with a session key.
	directOnly bool
	run        func(ctx context.Context, cred auth.Credential, body []byte) (any, error)
}

func (s *Server) registerTransactions() {
	s.txHandlers = map[string]txHandler{
		"initialize-profile": {directOnly: true, run: s.initializeProfile},
		"delegate-profile":   {directOnly: true, run: s.delegateProfile},
		"undelegate-profile": {directOnly: true, run: s.undelegateProfile},
		"start-game":         {run: s.startGame},
		"kill-zombie":        {run: s.killZombie},
		"end-game":           {run: s.endGame},
		"create-battle":      {directOnly: true, run: s.createBattle},
		"delegate-battle":    {directOnly: true, run: s.delegateBattle},
		"start-battle":       {run: s.startBattle},
		"join-battle":        {run: s.joinBattle},
		"kill-zombie-battle": {run: s.killZombieBattle},
		"end-battle":         {run: s.endBattle},
		"commit-battle":      {directOnly: true, run: s.commitBattle},
		"create-session":     {directOnly: true, run: s.createSession},
		"revoke-session":     {run: s.revokeSession},
	}
}

func decodeBody[T any](body []byte) (T, error) {
	var msg T
	if len(body) == 0 || string(body) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fiber.NewError(fiber.StatusBadRequest, "failed to decode transaction body: "+err.Error())
	}
	return msg, nil
}

type RoomMsg struct {
	RoomID uint64 `json:"roomId"`
}

type CreateBattleMsg struct {
	RoomID     uint64 `json:"roomId"`
	MaxPlayers uint8  `json:"maxPlayers"`
}

type KillZombieMsg struct {
	Reward uint64 `json:"reward"`
}

// PlayerMsg names the acting player of a battle. Player defaults to the authority the transaction acts for.
type PlayerMsg struct {
	RoomID uint64          `json:"roomId"`
	Player *common.Address `json:"player,omitempty"`
	Reward uint64          `json:"reward,omitempty"`
}

func (m PlayerMsg) player(cred auth.Credential) common.Address {
	if m.Player != nil {
		return *m.Player
	}
	return cred.Authority()
}

type CreateSessionMsg struct {
	Signer common.Address `json:"signer"`
	// ValidFor is the session lifetime in seconds. Zero means the default lifetime.
	ValidFor int64 `json:"validFor,omitempty"`
}

type RevokeSessionMsg struct {
	ID common.Hash `json:"id"`
}

func (s *Server) initializeProfile(ctx context.Context, cred auth.Credential, _ []byte) (any, error) {
	return s.prog.InitializeProfile(ctx, cred.Signer())
}

func (s *Server) delegateProfile(ctx context.Context, cred auth.Credential, _ []byte) (any, error) {
	return nil, s.prog.DelegateProfile(ctx, cred.Signer())
}

func (s *Server) undelegateProfile(ctx context.Context, cred auth.Credential, _ []byte) (any, error) {
	return s.prog.UndelegateProfile(ctx, cred.Signer())
}

func (s *Server) startGame(ctx context.Context, cred auth.Credential, _ []byte) (any, error) {
	return s.prog.StartGame(ctx, cred)
}

func (s *Server) killZombie(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[KillZombieMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.KillZombie(ctx, cred, msg.Reward)
}

func (s *Server) endGame(ctx context.Context, cred auth.Credential, _ []byte) (any, error) {
	return s.prog.EndGame(ctx, cred)
}

func (s *Server) createBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[CreateBattleMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.CreateBattle(ctx, cred.Signer(), msg.RoomID, msg.MaxPlayers)
}

func (s *Server) delegateBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[RoomMsg](body)
	if err != nil {
		return nil, err
	}
	return nil, s.prog.DelegateBattle(ctx, cred.Signer(), msg.RoomID)
}

func (s *Server) startBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[RoomMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.StartBattle(ctx, cred, msg.RoomID)
}

func (s *Server) joinBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[PlayerMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.JoinBattle(ctx, cred, msg.RoomID, msg.player(cred))
}

func (s *Server) killZombieBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[PlayerMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.KillZombieBattle(ctx, cred, msg.RoomID, msg.player(cred), msg.Reward)
}

func (s *Server) endBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[RoomMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.EndBattle(ctx, cred, msg.RoomID)
}

func (s *Server) commitBattle(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[RoomMsg](body)
	if err != nil {
		return nil, err
	}
	return s.prog.CommitBattle(ctx, cred.Signer(), msg.RoomID)
}

func (s *Server) createSession(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[CreateSessionMsg](body)
	if err != nil {
		return nil, err
	}
	if msg.ValidFor < 0 || msg.ValidFor > int64(session.MaxValidity/time.Second) {
		return nil, eris.Wrapf(session.ErrInvalidSessionTTL, "got %d seconds", msg.ValidFor)
	}
	validFor := time.Duration(msg.ValidFor) * time.Second
	if validFor == 0 {
		validFor = s.defaultSessionValidity
	}
	return s.prog.CreateSession(ctx, cred.Signer(), msg.Signer, validFor)
}

func (s *Server) revokeSession(ctx context.Context, cred auth.Credential, body []byte) (any, error) {
	msg, err := decodeBody[RevokeSessionMsg](body)
	if err != nil {
		return nil, err
	}
	return nil, s.prog.RevokeSession(ctx, cred.Signer(), msg.ID)
}
