// Package state implements the client-side state synchronization core: it
// ingests the ordered gateway event stream, keeps the local entity mirror
// consistent, correlates member chunk pages with their requests, and drives
// the sharded ready sequence.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/embercord/embercord/cache"
	"github.com/embercord/embercord/config"
	"github.com/embercord/embercord/event"
	"github.com/embercord/embercord/gateway"
	"github.com/embercord/embercord/logging"
	"github.com/embercord/embercord/rest"
)

// defaultQueryTimeout bounds QueryMembers when the caller supplies no
// deadline of their own.
const defaultQueryTimeout = 5 * time.Second

// VoiceClient is an active voice connection registered with the state. The
// voice protocol lives elsewhere; the state only tracks membership and
// refreshes gateway references after reconnects.
type VoiceClient interface {
	GuildID() string
	UpdateGateway(gw gateway.Gateway)
	Disconnect(ctx context.Context) error
}

// ConnectionState is the long-lived orchestrator owning the cache, the
// event emitter and the chunk request registry. One instance serves one
// client for the process lifetime.
type ConnectionState struct {
	opts    config.Options
	cache   cache.Cache
	shards  gateway.Provider
	rest    rest.Client
	emitter *event.Emitter
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	// With an empty member cache policy, user storage degrades to a
	// pass-through that never touches the cache.
	passThroughUsers bool

	mu            sync.Mutex
	user          *discordgo.User
	applicationID string
	chunkRequests map[string]*ChunkRequest
	voiceClients  map[string]VoiceClient
}

// New constructs a single-shard connection state. Configuration
// contradictions are fatal here rather than surfacing as runtime
// misbehavior later.
func New(opts config.Options, c cache.Cache, shards gateway.Provider, restClient rest.Client) (*ConnectionState, error) {
	s, err := newConnectionState(opts, c, shards, restClient)
	if err != nil {
		return nil, err
	}
	s.emitter = event.NewEmitter(s)
	for _, t := range event.DefaultTypes() {
		s.emitter.AddType(t)
	}
	return s, nil
}

func newConnectionState(opts config.Options, c cache.Cache, shards gateway.Provider, restClient rest.Client) (*ConnectionState, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state options: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &ConnectionState{
		opts:             opts,
		cache:            c,
		shards:           shards,
		rest:             restClient,
		log:              logging.NewLogger("state"),
		ctx:              ctx,
		cancel:           cancel,
		passThroughUsers: opts.Flags().Empty(),
		applicationID:    opts.ApplicationID,
		chunkRequests:    make(map[string]*ChunkRequest),
		voiceClients:     make(map[string]VoiceClient),
	}
	if !opts.Intents.Guilds() {
		s.log.Warn("guilds intent is not enabled; most state will never populate")
	}
	c.Bind()
	return s, nil
}

// Close cancels background work. The cache keeps its contents; call Clear
// for a full reset.
func (s *ConnectionState) Close() {
	s.cancel()
}

// Emitter exposes the subscribe surface for application code.
func (s *ConnectionState) Emitter() *event.Emitter { return s.emitter }

// Options returns the effective configuration.
func (s *ConnectionState) Options() config.Options { return s.opts }

// OnEvent is the transport entry point: one decoded frame in, fully
// dispatched typed events out. The transport must call it from a single
// goroutine in arrival order.
func (s *ConnectionState) OnEvent(ctx context.Context, name string, raw json.RawMessage) {
	s.emitter.Emit(ctx, name, raw)
}

// event.State implementation

func (s *ConnectionState) Cache() cache.Cache             { return s.cache }
func (s *ConnectionState) Flags() config.MemberCacheFlags { return s.opts.Flags() }

// SelfID returns the connected user's ID, or empty before READY.
func (s *ConnectionState) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// ClientUser returns the connected user, nil before READY.
func (s *ConnectionState) ClientUser() *discordgo.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// ApplicationID returns the application snowflake once known.
func (s *ConnectionState) ApplicationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applicationID
}

func (s *ConnectionState) StoreUser(ctx context.Context, user *discordgo.User) *discordgo.User {
	if s.passThroughUsers {
		return user
	}
	return s.cache.StoreUser(ctx, user)
}

func (s *ConnectionState) StoreMember(ctx context.Context, member *discordgo.Member) {
	s.cache.StoreMember(ctx, member)
	if member.User != nil {
		s.StoreUser(ctx, member.User)
	}
}

// HandleReady implements the single-shard ready path: record the client
// user, register the guild placeholders and announce readiness right away.
// The sharded variant overrides this with the delayed machine.
func (s *ConnectionState) HandleReady(ctx context.Context, ready *discordgo.Ready) {
	s.absorbReady(ctx, ready)
	s.emitter.Dispatch(ctx, event.Ready{User: ready.User})
}

// absorbReady records the READY payload contents shared by both ready
// paths.
func (s *ConnectionState) absorbReady(ctx context.Context, ready *discordgo.Ready) {
	s.mu.Lock()
	s.user = ready.User
	if ready.Application != nil && ready.Application.ID != "" {
		s.applicationID = ready.Application.ID
	}
	s.mu.Unlock()

	if ready.User != nil {
		s.cache.StoreUser(ctx, ready.User)
	}
	for _, g := range ready.Guilds {
		s.cache.AddGuild(ctx, g)
	}
	for _, ch := range ready.PrivateChannels {
		s.cache.StorePrivateChannel(ctx, ch)
	}
}

// HandleGuildCreate implements the post-ready path: register the guild,
// chunk it when needed and announce it as joined or available.
func (s *ConnectionState) HandleGuildCreate(ctx context.Context, guild *discordgo.Guild) {
	if guild.Unavailable {
		// A placeholder, not a real create. Keep it cached so a later
		// create resolves to "available" instead of "joined".
		s.cache.AddGuild(ctx, guild)
		return
	}
	_, known := s.cache.Guild(ctx, guild.ID)
	s.registerGuild(ctx, guild)
	s.announceGuild(ctx, guild, known)
}

// announceGuild chunks the guild when needed and then dispatches
// GUILD_AVAILABLE or GUILD_JOIN.
func (s *ConnectionState) announceGuild(ctx context.Context, guild *discordgo.Guild, known bool) {
	var ev event.Event
	if known {
		ev = event.GuildAvailable{Guild: guild}
	} else {
		ev = event.GuildJoin{Guild: guild}
	}
	if !s.GuildNeedsChunking(ctx, guild) {
		s.emitter.Dispatch(ctx, ev)
		return
	}
	go func() {
		chunkCtx, cancel := context.WithTimeout(s.ctx, chunkTimeout(1))
		defer cancel()
		if _, err := s.ChunkGuild(chunkCtx, guild, true, nil); err != nil {
			s.log.WithError(err).Debugf("chunking guild %s did not finish", guild.ID)
		}
		s.emitter.Dispatch(s.ctx, ev)
	}()
}

// registerGuild stores a full guild payload and its nested entities. The
// guild itself always goes first so nothing in the cache dangles.
func (s *ConnectionState) registerGuild(ctx context.Context, guild *discordgo.Guild) {
	s.cache.AddGuild(ctx, guild)
	if s.opts.Flags().Joined() {
		for _, m := range guild.Members {
			m.GuildID = guild.ID
			s.StoreMember(ctx, m)
		}
	}
	for _, e := range guild.Emojis {
		s.cache.StoreGuildEmoji(ctx, guild.ID, e)
	}
	for _, st := range guild.Stickers {
		s.cache.StoreSticker(ctx, guild.ID, st)
	}
}

// HandleMembersChunk feeds one chunk page into the correlation registry.
// The terminal page is the one whose index reaches the announced count.
func (s *ConnectionState) HandleMembersChunk(ctx context.Context, chunk *discordgo.GuildMembersChunk) {
	final := chunk.ChunkIndex+1 >= chunk.ChunkCount
	s.ProcessChunkRequests(ctx, chunk.GuildID, chunk.Nonce, chunk.Members, final)
}

// ProcessChunkRequests routes a chunk page to the request whose nonce and
// guild both match. Pages matching no outstanding request are dropped: the
// request may have timed out and been evicted already, and a stale page
// must never feed another request for the same guild.
func (s *ConnectionState) ProcessChunkRequests(ctx context.Context, guildID, nonce string, members []*discordgo.Member, final bool) {
	s.mu.Lock()
	request, ok := s.chunkRequests[nonce]
	if ok && request.GuildID != guildID {
		ok = false
	}
	if ok && final {
		delete(s.chunkRequests, request.Nonce)
		// The guild key may belong to a different request when a nonce-only
		// query resolves; only drop it when it is ours.
		if s.chunkRequests[request.GuildID] == request {
			delete(s.chunkRequests, request.GuildID)
		}
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debugf("dropping member chunk for guild %s with no outstanding request", guildID)
		return
	}
	request.AddMembers(ctx, members)
	if final {
		request.Done()
	}
}

// PendingChunks counts in-flight chunk requests.
func (s *ConnectionState) PendingChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.chunkRequests))
	for _, r := range s.chunkRequests {
		seen[r.Nonce] = true
	}
	return len(seen)
}

// GuildNeedsChunking reports whether the guild's member list is worth
// requesting: startup chunking is on and the cache does not already hold
// the full list. With the presences intent small guilds arrive with their
// complete member list in GUILD_CREATE, so only large guilds need a
// request; without it every unchunked guild does.
func (s *ConnectionState) GuildNeedsChunking(ctx context.Context, guild *discordgo.Guild) bool {
	if !s.opts.ChunkGuilds() || guild.Unavailable {
		return false
	}
	if s.opts.Intents.Presences() && !guild.Large {
		return false
	}
	return !s.guildChunked(ctx, guild)
}

func (s *ConnectionState) guildChunked(ctx context.Context, guild *discordgo.Guild) bool {
	if guild.MemberCount == 0 {
		return false
	}
	return len(s.cache.GuildMembers(ctx, guild.ID)) >= guild.MemberCount
}

// ChunkGuild requests the full member list of one guild. The call is
// idempotent per guild: a second caller before the first request resolves
// attaches to the in-flight request instead of sending a duplicate gateway
// command. With wait the resolved member list is returned; without it the
// call returns immediately after sending.
//
// cacheOverride forces member caching on or off for this request; nil
// follows the configured member cache policy.
func (s *ConnectionState) ChunkGuild(ctx context.Context, guild *discordgo.Guild, wait bool, cacheOverride *bool) ([]*discordgo.Member, error) {
	cacheMembers := s.opts.Flags().Joined()
	if cacheOverride != nil {
		cacheMembers = *cacheOverride
	}

	s.mu.Lock()
	request, inFlight := s.chunkRequests[guild.ID]
	if !inFlight {
		var err error
		request, err = newChunkRequest(s, guild.ID, cacheMembers)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.chunkRequests[request.Nonce] = request
		s.chunkRequests[guild.ID] = request
	}
	s.mu.Unlock()

	if !inFlight {
		if err := s.requestGuildMembers(ctx, guild.ID, "", 0, nil, false, request.Nonce); err != nil {
			s.evictChunkRequest(request)
			return nil, err
		}
	}
	if !wait {
		return nil, nil
	}
	return request.Wait(ctx)
}

// QueryMembers searches a guild's member list over the gateway. Unlike
// ChunkGuild the request is correlated by nonce only, so concurrent
// queries against one guild stay independent. A timed-out request is
// evicted from the registry so nothing leaks.
func (s *ConnectionState) QueryMembers(ctx context.Context, guildID, query string, limit int, userIDs []string, presences, cacheMembers bool) ([]*discordgo.Member, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
	}

	request, err := newChunkRequest(s, guildID, cacheMembers)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.chunkRequests[request.Nonce] = request
	s.mu.Unlock()

	if err := s.requestGuildMembers(ctx, guildID, query, limit, userIDs, presences, request.Nonce); err != nil {
		s.evictChunkRequest(request)
		return nil, err
	}

	members, err := request.Wait(ctx)
	if err != nil {
		s.evictChunkRequest(request)
		return nil, err
	}
	return members, nil
}

func (s *ConnectionState) evictChunkRequest(request *ChunkRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkRequests[request.Nonce] == request {
		delete(s.chunkRequests, request.Nonce)
	}
	if s.chunkRequests[request.GuildID] == request {
		delete(s.chunkRequests, request.GuildID)
	}
}

func (s *ConnectionState) requestGuildMembers(ctx context.Context, guildID, query string, limit int, userIDs []string, presences bool, nonce string) error {
	shardID := gateway.ShardForGuild(guildID, s.shards.ShardCount())
	gw, ok := s.shards.Shard(shardID)
	if !ok {
		return fmt.Errorf("shard %d serving guild %s is not connected", shardID, guildID)
	}
	if err := gw.RequestGuildMembers(ctx, guildID, query, limit, userIDs, presences, nonce); err != nil {
		return fmt.Errorf("could not request members for guild %s: %w", guildID, err)
	}
	return nil
}

// accessors fronting the cache

func (s *ConnectionState) Guild(ctx context.Context, guildID string) (*discordgo.Guild, bool) {
	return s.cache.Guild(ctx, guildID)
}

func (s *ConnectionState) Guilds(ctx context.Context) []*discordgo.Guild {
	return s.cache.Guilds(ctx)
}

func (s *ConnectionState) User(ctx context.Context, userID string) (*discordgo.User, bool) {
	return s.cache.User(ctx, userID)
}

func (s *ConnectionState) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, bool) {
	return s.cache.Member(ctx, guildID, userID)
}

func (s *ConnectionState) Message(ctx context.Context, messageID string) (*discordgo.Message, bool) {
	return s.cache.Message(ctx, messageID)
}

func (s *ConnectionState) Sticker(ctx context.Context, stickerID string) (*discordgo.Sticker, bool) {
	return s.cache.Sticker(ctx, stickerID)
}

func (s *ConnectionState) Sound(ctx context.Context, soundID string) (*cache.SoundboardSound, bool) {
	return s.cache.Sound(ctx, soundID)
}

// Emoji resolves an emoji by ID, synthesizing an uncached partial emoji
// when only the ID is known. Messages regularly reference emojis from
// guilds the client cannot see, and those must still be addressable.
func (s *ConnectionState) Emoji(ctx context.Context, emojiID string) *discordgo.Emoji {
	if e, ok := s.cache.Emoji(ctx, emojiID); ok {
		return e
	}
	return &discordgo.Emoji{ID: emojiID}
}

// ResolveChannel determines the channel context of a payload: a cached
// guild channel, a cached private channel, or a partial placeholder that
// is addressable but carries no further state.
func (s *ConnectionState) ResolveChannel(ctx context.Context, guildID, channelID string) *discordgo.Channel {
	if guildID != "" {
		if guild, ok := s.cache.Guild(ctx, guildID); ok {
			for _, ch := range guild.Channels {
				if ch.ID == channelID {
					return ch
				}
			}
		}
		return &discordgo.Channel{ID: channelID, GuildID: guildID, Type: discordgo.ChannelTypeGuildText}
	}
	if ch, ok := s.cache.PrivateChannel(ctx, channelID); ok {
		return ch
	}
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeDM}
}

// voice client registry

func (s *ConnectionState) VoiceClient(guildID string) (VoiceClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vc, ok := s.voiceClients[guildID]
	return vc, ok
}

func (s *ConnectionState) AddVoiceClient(vc VoiceClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceClients[vc.GuildID()] = vc
}

func (s *ConnectionState) RemoveVoiceClient(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voiceClients, guildID)
}

func (s *ConnectionState) VoiceClients() []VoiceClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]VoiceClient, 0, len(s.voiceClients))
	for _, vc := range s.voiceClients {
		clients = append(clients, vc)
	}
	return clients
}

// UpdateGatewayReferences repoints every voice client at the current
// connection of its shard, after a reconnect replaced them.
func (s *ConnectionState) UpdateGatewayReferences() {
	for _, vc := range s.VoiceClients() {
		shardID := gateway.ShardForGuild(vc.GuildID(), s.shards.ShardCount())
		if gw, ok := s.shards.Shard(shardID); ok {
			vc.UpdateGateway(gw)
		}
	}
}

// AddDefaultSounds fetches the built-in soundboard sounds over REST and
// caches them.
func (s *ConnectionState) AddDefaultSounds(ctx context.Context) error {
	sounds, err := s.rest.DefaultSoundboardSounds(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch default sounds: %w", err)
	}
	for _, sound := range sounds {
		s.cache.StoreSound(ctx, sound)
	}
	return nil
}

// fetchAppEmojis backfills the application emoji cache over REST.
func (s *ConnectionState) fetchAppEmojis(ctx context.Context) {
	appID := s.ApplicationID()
	if appID == "" {
		return
	}
	emojis, err := s.rest.ApplicationEmojis(ctx, appID)
	if err != nil {
		s.log.WithError(err).Warn("could not fetch application emojis")
		return
	}
	for _, e := range emojis {
		s.cache.StoreAppEmoji(ctx, appID, e)
	}
}

// Clear resets the mirror for a fresh session: the client identity is
// forgotten until the next READY, the cache is wiped (views optionally
// surviving), voice clients are dropped and outstanding chunk requests are
// abandoned.
func (s *ConnectionState) Clear(ctx context.Context, preserveViews bool) {
	s.mu.Lock()
	s.user = nil
	s.applicationID = s.opts.ApplicationID
	s.chunkRequests = make(map[string]*ChunkRequest)
	clients := make([]VoiceClient, 0, len(s.voiceClients))
	for _, vc := range s.voiceClients {
		clients = append(clients, vc)
	}
	s.voiceClients = make(map[string]VoiceClient)
	s.mu.Unlock()

	for _, vc := range clients {
		if err := vc.Disconnect(ctx); err != nil {
			s.log.WithError(err).Warnf("could not disconnect voice client for guild %s", vc.GuildID())
		}
	}
	s.cache.Clear(ctx, preserveViews)
}

// chunkTimeout scales the wait for n concurrent guild chunks against the
// one-request-per-guild-per-minute budget the gateway enforces.
func chunkTimeout(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * 70 * time.Second
}
