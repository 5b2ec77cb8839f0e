package service

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/jobs"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// Fanout atomically publishes one authored or generated message to a
// conversation's participant set: the message row, one join row per
// recipient, and a state refresh for every affected participant, all in
// one conversation-shard transaction.
type Fanout struct {
	repos    *repository.Repositories
	msgRepo  *repository.MessageRepo
	partRepo *repository.ParticipantRepo
	router   *Router
	state    *StateCache
	tags     *TagInference
	notifier Notifier
	queue    *jobs.Queue
	cfg      *config.ConversationsConfig
	log      *logger.Logger
}

// NewFanout creates a new Fanout
func NewFanout(repos *repository.Repositories, router *Router, state *StateCache, tags *TagInference, notifier Notifier, queue *jobs.Queue, cfg *config.ConversationsConfig, log *logger.Logger) *Fanout {
	return &Fanout{
		repos:    repos,
		msgRepo:  repos.Message,
		partRepo: repos.Participant,
		router:   router,
		state:    state,
		tags:     tags,
		notifier: notifier,
		queue:    queue,
		cfg:      cfg,
		log:      log,
	}
}

// AddMessageRequest describes one message to publish.
type AddMessageRequest struct {
	ConversationID      int64
	AuthorID            int64
	Body                string
	AttachmentIDs       []int64
	MediaCommentID      string
	MediaCommentType    string
	ForwardedMessageIDs []int64
	// OnlyUsers restricts which participants get a join row for this
	// message. Participant state still refreshes for everyone.
	OnlyUsers []int64
	// SkipSenderUpdate leaves the author's own thread untouched, so
	// reply-notification flows don't bump it to the top.
	SkipSenderUpdate bool
	Generated        bool
	EventType        string
	EventData        map[string]interface{}
	// Mode forces sync or async processing; empty defers to
	// DecideExecutionMode.
	Mode string
}

// DecideExecutionMode picks sync or async fan-out from the participant
// count. Pure policy: both modes must produce identical end state.
func (f *Fanout) DecideExecutionMode(participantCount int) string {
	if participantCount <= f.cfg.ImmediateFanoutThreshold {
		return constant.ModeSync
	}
	return constant.ModeAsync
}

// AddMessage publishes a message to the conversation. In async mode the
// message row commits immediately and the per-participant fan-out runs on
// the background queue; callers observing participants right away may see
// pre-message state.
func (f *Fanout) AddMessage(ctx context.Context, req *AddMessageRequest) (*entity.ConversationMessage, error) {
	ref, err := f.router.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	participants, err := f.router.ParticipantIDs(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := f.validate(req, participants); err != nil {
		return nil, err
	}

	msg, err := f.buildMessage(ctx, ref, req, participants)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = f.DecideExecutionMode(len(participants))
	}

	recipients := joinRowRecipients(participants, req.OnlyUsers, req.AuthorID)

	if mode == constant.ModeAsync {
		if err := f.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
			return f.msgRepo.Create(ctx, tx, msg)
		}); err != nil {
			return nil, errcode.ErrInternalServer.Wrap(err)
		}
		job := func(jobCtx context.Context) {
			if err := f.distribute(jobCtx, ref, msg, recipients, participants, req.SkipSenderUpdate, false); err != nil {
				f.log.Errorw("deferred fan-out failed", "conversation_id", ref.GlobalID, "message_id", msg.ID, "err", err)
			}
		}
		if err := f.queue.Enqueue(job); err != nil {
			// Queue saturated: fall back to inline processing rather
			// than losing the fan-out.
			f.log.Warnw("queue full, fanning out inline", "conversation_id", ref.GlobalID)
			job(ctx)
		}
	} else {
		if err := f.distribute(ctx, ref, msg, recipients, participants, req.SkipSenderUpdate, true); err != nil {
			return nil, errcode.ErrInternalServer.Wrap(err)
		}
	}

	if msg.Human() && !msg.SubmissionLinked() {
		f.notifier.MessageAdded(ctx, ref.GlobalID, msg, recipientsExcept(recipients, req.AuthorID))
	}
	return msg, nil
}

func (f *Fanout) validate(req *AddMessageRequest, participants []int64) error {
	if !req.Generated {
		if req.Body == "" {
			return errcode.ErrMissingField.WithField("body")
		}
		if len(req.Body) > f.cfg.MaxMessageLength {
			return errcode.ErrBodyTooLong.WithField("body")
		}
		if !containsID(participants, req.AuthorID) {
			return errcode.ErrNotParticipating
		}
	}
	return nil
}

func (f *Fanout) buildMessage(ctx context.Context, ref *ConversationRef, req *AddMessageRequest, participants []int64) (*entity.ConversationMessage, error) {
	msg := &entity.ConversationMessage{
		ConversationID:   ref.GlobalID,
		AuthorID:         req.AuthorID,
		Body:             req.Body,
		Generated:        req.Generated,
		EventType:        req.EventType,
		MediaCommentID:   req.MediaCommentID,
		MediaCommentType: req.MediaCommentType,
		RootAccountIDs:   ref.Conversation.RootAccountIDs,
		CreatedAt:        entity.NowUnixMilli(),
	}
	if req.EventData != nil {
		msg.EventData = datatypes.JSONMap(req.EventData)
	}
	msg.SetAttachmentIDList(req.AttachmentIDs)
	msg.HasAttachments = len(req.AttachmentIDs) > 0
	msg.HasMediaObjects = req.MediaCommentID != ""

	if len(req.ForwardedMessageIDs) > 0 {
		forwarded, err := f.loadForwardable(ctx, req.ForwardedMessageIDs)
		if err != nil {
			return nil, err
		}
		msg.SetForwardedIDList(req.ForwardedMessageIDs)
		// Attachment and media flags propagate through embedded messages.
		for _, fm := range forwarded {
			msg.HasAttachments = msg.HasAttachments || fm.HasAttachments
			msg.HasMediaObjects = msg.HasMediaObjects || fm.HasMediaObjects
		}
	}

	return msg, nil
}

// loadForwardable resolves forwarded message ids, which may live on other
// shards, and rejects ones that cannot be embedded.
func (f *Fanout) loadForwardable(ctx context.Context, ids []int64) ([]*entity.ConversationMessage, error) {
	out := make([]*entity.ConversationMessage, 0, len(ids))
	for _, id := range ids {
		shard, err := f.repos.Cluster.ShardFor(id, nil)
		if err != nil {
			return nil, errcode.ErrMessageNotFound.WithField("forwarded_message_ids").Wrap(err)
		}
		_, localID := sharding.SplitGlobalID(id)
		msg, err := f.msgRepo.GetByID(ctx, shard.DB, localID)
		if err != nil {
			return nil, errcode.ErrInternalServer.Wrap(err)
		}
		if msg == nil {
			return nil, errcode.ErrMessageNotFound.WithField("forwarded_message_ids")
		}
		if !msg.Forwardable() {
			return nil, errcode.ErrInvalidParam.WithField("forwarded_message_ids").WithMsg("message %d cannot be forwarded", id)
		}
		out = append(out, msg)
	}
	return out, nil
}

// distribute writes the join rows and refreshes every participant's state
// in one conversation-shard transaction. Counter and replica writes
// happen after commit; they are repairable, the transaction is not.
func (f *Fanout) distribute(ctx context.Context, ref *ConversationRef, msg *entity.ConversationMessage, recipients, participants []int64, skipSender, msgInTx bool) error {
	msgTags, err := f.tags.MessageTags(ctx, ref.Conversation, participants)
	if err != nil {
		return err
	}

	type change struct {
		row       *entity.ConversationParticipant
		wasUnread bool
	}
	var changes []change

	err = f.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		if msgInTx {
			if err := f.msgRepo.Create(ctx, tx, msg); err != nil {
				return err
			}
		}

		rows := make([]*entity.ConversationMessageParticipant, 0, len(recipients))
		for _, userID := range recipients {
			rows = append(rows, &entity.ConversationMessageParticipant{
				ConversationMessageID: msg.ID,
				ConversationID:        ref.GlobalID,
				UserID:                userID,
				Tags:                  msgTags,
				WorkflowState:         constant.MessageParticipantActive,
			})
		}
		if err := f.msgRepo.CreateParticipants(ctx, tx, rows); err != nil {
			return err
		}

		for _, userID := range participants {
			if skipSender && userID == msg.AuthorID {
				continue
			}
			p, err := f.partRepo.Get(ctx, tx, ref.GlobalID, userID)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			wasUnread := p.Unread()
			f.applyMessageTransition(p, msg)
			if _, err := f.state.Recompute(ctx, tx, ref.Conversation, ref.GlobalID, p, entity.DefaultRecomputeOptions()); err != nil {
				return err
			}
			if err := f.partRepo.Save(ctx, tx, p); err != nil {
				return err
			}
			changes = append(changes, change{row: p, wasUnread: wasUnread})
		}
		return f.repos.Conversation.Touch(ctx, tx, ref.Conversation.ID)
	})
	if err != nil {
		return err
	}

	for _, c := range changes {
		if err := f.state.SyncReplica(ctx, ref.Shard, c.row); err != nil {
			f.log.Warnw("replica write failed", "conversation_id", ref.GlobalID, "user_id", c.row.UserID, "err", err)
		}
		switch {
		case !c.wasUnread && c.row.Unread():
			f.repos.Cache.IncrUnread(ctx, c.row.UserID)
		case c.wasUnread && !c.row.Unread():
			f.repos.Cache.DecrUnread(ctx, c.row.UserID)
		}
	}
	return nil
}

// applyMessageTransition moves a participant's workflow state for a new
// message: the author reads their own message, everyone else goes unread,
// except archived participants who unsubscribed stay archived.
func (f *Fanout) applyMessageTransition(p *entity.ConversationParticipant, msg *entity.ConversationMessage) {
	if p.UserID == msg.AuthorID {
		p.WorkflowState = constant.ParticipantStateRead
		if msg.Human() {
			t := msg.CreatedAt
			p.LastAuthoredAt = &t
		}
		return
	}
	if p.Archived() && !p.Subscribed {
		return
	}
	p.WorkflowState = constant.ParticipantStateUnread
}

// ShareMessages grants one user join rows for already-existing messages,
// then refreshes their state. Used when appending to a private thread
// that should surface prior context, and by add-recipients flows.
func (f *Fanout) ShareMessages(ctx context.Context, conversationID, userID int64, messageIDs []int64) error {
	ref, err := f.router.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	participants, err := f.router.ParticipantIDs(ctx, ref)
	if err != nil {
		return err
	}
	if !containsID(participants, userID) {
		return errcode.ErrNotParticipating
	}

	msgTags, err := f.tags.MessageTags(ctx, ref.Conversation, participants)
	if err != nil {
		return err
	}

	localIDs := make([]int64, len(messageIDs))
	for i, id := range messageIDs {
		_, localIDs[i] = sharding.SplitGlobalID(id)
	}

	var p *entity.ConversationParticipant
	err = f.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		msgs, err := f.msgRepo.GetByIDs(ctx, tx, localIDs)
		if err != nil {
			return err
		}
		if len(msgs) != len(localIDs) {
			return errcode.ErrMessageNotFound.WithField("included_message_ids")
		}
		rows := make([]*entity.ConversationMessageParticipant, 0, len(msgs))
		for _, msg := range msgs {
			if msg.ConversationID != ref.GlobalID {
				return errcode.ErrMessageNotFound.WithField("included_message_ids")
			}
			rows = append(rows, &entity.ConversationMessageParticipant{
				ConversationMessageID: msg.ID,
				ConversationID:        ref.GlobalID,
				UserID:                userID,
				Tags:                  msgTags,
				WorkflowState:         constant.MessageParticipantActive,
			})
		}
		if err := f.msgRepo.CreateParticipants(ctx, tx, rows); err != nil {
			return err
		}

		p, err = f.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrParticipantNotFound
		}
		if _, err := f.state.Recompute(ctx, tx, ref.Conversation, ref.GlobalID, p, entity.DefaultRecomputeOptions()); err != nil {
			return err
		}
		return f.partRepo.Save(ctx, tx, p)
	})
	if err != nil {
		return err
	}

	if err := f.state.SyncReplica(ctx, ref.Shard, p); err != nil {
		f.log.Warnw("replica write failed", "conversation_id", ref.GlobalID, "user_id", userID, "err", err)
	}
	return nil
}

// AddParticipants joins new users to an existing group thread and records
// a generated users_added event message visible to everyone.
func (f *Fanout) AddParticipants(ctx context.Context, conversationID, actorID int64, userIDs []int64) (*entity.ConversationMessage, error) {
	ref, err := f.router.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if ref.Conversation.Private() {
		return nil, errcode.ErrInvalidParam.WithField("recipients").WithMsg("cannot add participants to a private conversation")
	}

	added, err := f.router.EnsureParticipants(ctx, ref, userIDs)
	if err != nil {
		return nil, err
	}
	if len(added) == 0 {
		return nil, nil
	}
	for _, userID := range added {
		if err := f.restoreAuthorship(ctx, ref, userID); err != nil {
			return nil, asServiceError(err)
		}
	}

	addedList := make([]interface{}, len(added))
	for i, id := range added {
		addedList[i] = id
	}
	return f.AddMessage(ctx, &AddMessageRequest{
		ConversationID: conversationID,
		AuthorID:       actorID,
		Generated:      true,
		EventType:      constant.MessageEventUsersAdded,
		EventData:      map[string]interface{}{"user_ids": addedList},
		Mode:           constant.ModeSync,
	})
}

// restoreAuthorship rebuilds the authored-message timestamp for a user
// rejoining a thread. Their old messages survive a view deletion, but the
// fresh participant row knows nothing about them.
func (f *Fanout) restoreAuthorship(ctx context.Context, ref *ConversationRef, userID int64) error {
	return f.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		p, err := f.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		if err := f.state.RefreshLastAuthoredAt(ctx, tx, ref.GlobalID, p); err != nil {
			return err
		}
		if p.LastAuthoredAt == nil {
			return nil
		}
		return f.partRepo.Save(ctx, tx, p)
	})
}

// joinRowRecipients picks which participants get a join row. only_users
// narrows the set but the author always sees their own message.
func joinRowRecipients(participants, onlyUsers []int64, authorID int64) []int64 {
	if len(onlyUsers) == 0 {
		return participants
	}
	allowed := make(map[int64]struct{}, len(onlyUsers)+1)
	for _, id := range onlyUsers {
		allowed[id] = struct{}{}
	}
	allowed[authorID] = struct{}{}
	var out []int64
	for _, id := range participants {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func recipientsExcept(ids []int64, except int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
