package service

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// Router maps a (sender, recipient set, context, force-new) tuple to a
// conversation identity and routes storage to the right shard. Private
// 1:1 threads are deduplicated through the private hash; group threads
// never dedup.
type Router struct {
	repos       *repository.Repositories
	convRepo    *repository.ConversationRepo
	partRepo    *repository.ParticipantRepo
	cluster     *sharding.Cluster
	perms       PermissionChecker
	enrollments EnrollmentSource
	tags        *TagInference
	cfg         *config.ConversationsConfig
	log         *logger.Logger
}

// NewRouter creates a new Router
func NewRouter(repos *repository.Repositories, perms PermissionChecker, enrollments EnrollmentSource, tags *TagInference, cfg *config.ConversationsConfig, log *logger.Logger) *Router {
	return &Router{
		repos:       repos,
		convRepo:    repos.Conversation,
		partRepo:    repos.Participant,
		cluster:     repos.Cluster,
		perms:       perms,
		enrollments: enrollments,
		tags:        tags,
		cfg:         cfg,
		log:         log,
	}
}

// ResolveRequest identifies the thread a message should land in.
// RecipientIDs excludes the sender and must already be expanded from
// recipient tokens.
type ResolveRequest struct {
	SenderID          int64
	RecipientIDs      []int64
	ContextType       string
	ContextID         int64
	Subject           string
	ForceNew          bool
	GroupConversation bool
}

// ConversationRef is a located conversation: the row, the shard it lives
// on, and its cluster-wide id.
type ConversationRef struct {
	Conversation *entity.Conversation
	Shard        *sharding.Shard
	GlobalID     int64
	Created      bool
}

// ExpandRecipients turns raw recipient tokens into user ids. A numeric
// token is a user id; "course_7" or "course_7_students" broadcasts to a
// context audience, which requires the send-to-all permission. The
// returned set is deduplicated and never contains the sender.
func (r *Router) ExpandRecipients(ctx context.Context, senderID int64, tokens []string) ([]int64, error) {
	if len(tokens) == 0 {
		return nil, errcode.ErrEmptyRecipients.WithField("recipients")
	}
	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if id == senderID {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if id, err := strconv.ParseInt(token, 10, 64); err == nil {
			if id <= 0 {
				return nil, errcode.ErrInvalidRecipient.WithField("recipients").WithMsg("invalid recipient %q", token)
			}
			add(id)
			continue
		}

		contextType, contextID, scope, ok := parseAudienceToken(token)
		if !ok {
			return nil, errcode.ErrInvalidRecipient.WithField("recipients").WithMsg("invalid recipient %q", token)
		}
		if !r.perms.CanMessageAll(ctx, senderID, contextType, contextID) {
			return nil, errcode.ErrRestrictedRecipient.WithField("recipients").WithMsg("recipient %q requires send_messages_all permission", token)
		}
		ids, err := r.enrollments.ExpandAudience(ctx, contextType, contextID, scope)
		if err != nil {
			return nil, errcode.ErrInternalServer.Wrap(err)
		}
		for _, id := range ids {
			add(id)
		}
	}

	if len(out) == 0 {
		return nil, errcode.ErrEmptyRecipients.WithField("recipients")
	}
	return out, nil
}

// parseAudienceToken splits "course_7" or "course_7_students" into its
// context reference and optional role scope.
func parseAudienceToken(token string) (contextType string, contextID int64, scope string, ok bool) {
	if contextType, contextID, ok = entity.ParseAssetString(token); ok {
		return contextType, contextID, "", true
	}
	idx := strings.LastIndex(token, "_")
	if idx <= 0 {
		return "", 0, "", false
	}
	scope = token[idx+1:]
	contextType, contextID, ok = entity.ParseAssetString(token[:idx])
	if !ok {
		return "", 0, "", false
	}
	return contextType, contextID, scope, true
}

// Resolve finds or creates the conversation for the request. Private
// threads reuse an existing conversation with the same private hash and
// context; the context-qualified hash is checked first, falling back to
// the legacy context-free format rows written before contexts joined the
// key. Group threads and force-new requests always create.
func (r *Router) Resolve(ctx context.Context, req *ResolveRequest) (*ConversationRef, error) {
	if len(req.RecipientIDs) == 0 {
		return nil, errcode.ErrEmptyRecipients.WithField("recipients")
	}
	if req.ContextType == constant.ContextTypeAccount {
		if !r.perms.CanCreateInContext(ctx, req.SenderID, req.ContextType, req.ContextID) {
			return nil, errcode.ErrContextNotAuthorized.WithField("context_code")
		}
	}

	participants := participantSet(req.SenderID, req.RecipientIDs)
	if len(participants) > r.cfg.MaxGroupParticipants {
		return nil, errcode.ErrGroupSizeExceeded.WithField("recipients")
	}

	private := !req.GroupConversation && len(participants) == 2
	shard := r.placementShard(req, participants, private)

	contextKey := ""
	if req.ContextType != "" && req.ContextID != 0 {
		contextKey = entity.AssetString(req.ContextType, req.ContextID)
	}

	if private && !req.ForceNew {
		existing, err := r.findPrivate(ctx, shard, participants, contextKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &ConversationRef{
				Conversation: existing,
				Shard:        shard,
				GlobalID:     shard.GlobalID(existing.ID),
			}, nil
		}
	}

	ref, err := r.create(ctx, shard, req, participants, private, contextKey)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// findPrivate looks up an existing private conversation, checking the
// context-qualified hash first and the legacy context-free format second
// for rows written before contexts joined the key. Races on concurrent
// first sends resolve first-write-wins: whoever commits first is found by
// the loser's next lookup.
func (r *Router) findPrivate(ctx context.Context, shard *sharding.Shard, participants []int64, contextKey string) (*entity.Conversation, error) {
	conv, err := r.convRepo.FindByPrivateHash(ctx, shard.DB, entity.PrivateHashFor(participants, contextKey))
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if conv != nil || contextKey == "" {
		return conv, nil
	}
	legacy, err := r.convRepo.FindByPrivateHash(ctx, shard.DB, entity.LegacyPrivateHashFor(participants))
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	return legacy, nil
}

func (r *Router) create(ctx context.Context, shard *sharding.Shard, req *ResolveRequest, participants []int64, private bool, contextKey string) (*ConversationRef, error) {
	conv := &entity.Conversation{
		Subject:     req.Subject,
		ContextType: req.ContextType,
		ContextID:   req.ContextID,
	}
	if private {
		hash := entity.PrivateHashFor(participants, contextKey)
		conv.PrivateHash = &hash
	}

	tags, err := r.tags.ConversationTags(ctx, conv, participants)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	conv.Tags = tags

	var created []*entity.ConversationParticipant
	err = r.repos.Transaction(ctx, shard, func(tx *gorm.DB) error {
		if err := r.convRepo.Create(ctx, tx, conv); err != nil {
			return err
		}
		globalID := shard.GlobalID(conv.ID)
		for _, userID := range participants {
			p := newParticipant(globalID, userID, conv)
			if err := r.partRepo.Create(ctx, tx, p); err != nil {
				return err
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	globalID := shard.GlobalID(conv.ID)
	r.syncReplicas(ctx, shard, created)
	r.repos.Cache.SetParticipants(ctx, globalID, participants)
	// New rows start unread, so the counter moves with them. The author's
	// first fan-out flips their own row to read and decrements it back.
	for _, p := range created {
		r.repos.Cache.IncrUnread(ctx, p.UserID)
	}

	return &ConversationRef{
		Conversation: conv,
		Shard:        shard,
		GlobalID:     globalID,
		Created:      true,
	}, nil
}

// GetConversation locates an existing conversation by global id.
func (r *Router) GetConversation(ctx context.Context, globalID int64) (*ConversationRef, error) {
	shard, err := r.cluster.ShardFor(globalID, nil)
	if err != nil {
		return nil, errcode.ErrConversationNotFound.Wrap(err)
	}
	_, localID := sharding.SplitGlobalID(globalID)
	conv, err := r.convRepo.GetByLocalID(ctx, shard.DB, localID)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if conv == nil {
		return nil, errcode.ErrConversationNotFound
	}
	return &ConversationRef{
		Conversation: conv,
		Shard:        shard,
		GlobalID:     shard.GlobalID(conv.ID),
	}, nil
}

// ParticipantIDs lists the conversation's member user ids, serving from
// the redis cache when warm.
func (r *Router) ParticipantIDs(ctx context.Context, ref *ConversationRef) ([]int64, error) {
	if ids := r.repos.Cache.GetParticipants(ctx, ref.GlobalID); ids != nil {
		return ids, nil
	}
	ids, err := r.partRepo.UserIDsForConversation(ctx, ref.Shard.DB, ref.GlobalID)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	r.repos.Cache.SetParticipants(ctx, ref.GlobalID, ids)
	return ids, nil
}

// EnsureParticipants adds the given users to an existing conversation,
// skipping ones already present. Returns the user ids actually added.
func (r *Router) EnsureParticipants(ctx context.Context, ref *ConversationRef, userIDs []int64) ([]int64, error) {
	existing, err := r.ParticipantIDs(ctx, ref)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}
	var missing []int64
	for _, id := range userIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var created []*entity.ConversationParticipant
	err = r.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		// The ceiling is enforced against the authoritative rows, not the
		// cached participant list.
		count, err := r.partRepo.CountForConversation(ctx, tx, ref.GlobalID)
		if err != nil {
			return err
		}
		if count+int64(len(missing)) > int64(r.cfg.MaxGroupParticipants) {
			return errcode.ErrGroupSizeExceeded.WithField("recipients")
		}
		for _, userID := range missing {
			p := newParticipant(ref.GlobalID, userID, ref.Conversation)
			if err := r.partRepo.Create(ctx, tx, p); err != nil {
				return err
			}
			created = append(created, p)
		}
		// The recipient set changed, so the conversation's tags are
		// rederived over the grown participant set.
		tags, err := r.tags.ConversationTags(ctx, ref.Conversation, append(existing, missing...))
		if err != nil {
			return err
		}
		ref.Conversation.Tags = tags
		return r.convRepo.Save(ctx, tx, ref.Conversation)
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	r.syncReplicas(ctx, ref.Shard, created)
	r.repos.Cache.InvalidateParticipants(ctx, ref.GlobalID)
	for _, p := range created {
		r.repos.Cache.IncrUnread(ctx, p.UserID)
	}
	return missing, nil
}

// RepairReplica rewrites a lost home-shard replica from the authoritative
// row. A missing replica is not an error, just staleness to fix on the
// next observation.
func (r *Router) RepairReplica(ctx context.Context, ref *ConversationRef, p *entity.ConversationParticipant) {
	home := r.cluster.HomeShard(p.UserID)
	if home.ID == ref.Shard.ID {
		return
	}
	if err := r.partRepo.Upsert(ctx, home.DB, p); err != nil {
		r.log.Warnw("replica repair failed", "conversation_id", ref.GlobalID, "user_id", p.UserID, "err", err)
	}
}

func (r *Router) syncReplicas(ctx context.Context, convShard *sharding.Shard, rows []*entity.ConversationParticipant) {
	for _, p := range rows {
		home := r.cluster.HomeShard(p.UserID)
		if home.ID == convShard.ID {
			continue
		}
		if err := r.partRepo.Upsert(ctx, home.DB, p); err != nil {
			r.log.Warnw("replica write failed", "conversation_id", p.ConversationID, "user_id", p.UserID, "err", err)
		}
	}
}

func (r *Router) placementShard(req *ResolveRequest, participants []int64, private bool) *sharding.Shard {
	if req.ContextType != "" && req.ContextID != 0 {
		return r.cluster.ContextShard(req.ContextID)
	}
	if private {
		// Either party may send first; the lowest id anchors placement so
		// both directions hit the same shard for the dedup lookup.
		return r.cluster.HomeShard(participants[0])
	}
	return r.cluster.HomeShard(req.SenderID)
}

func newParticipant(convGlobalID, userID int64, conv *entity.Conversation) *entity.ConversationParticipant {
	p := &entity.ConversationParticipant{
		ConversationID: convGlobalID,
		UserID:         userID,
		WorkflowState:  constant.ParticipantStateUnread,
		Subscribed:     true,
		Tags:           conv.Tags,
		PrivateHash:    conv.PrivateHash,
		RootAccountIDs: conv.RootAccountIDs,
	}
	return p
}

func participantSet(senderID int64, recipientIDs []int64) []int64 {
	seen := map[int64]struct{}{senderID: {}}
	out := []int64{senderID}
	for _, id := range recipientIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
