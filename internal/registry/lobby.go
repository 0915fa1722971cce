package registry

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jtmoulia/dungeons-and-agents/internal/apperrors"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
)

// GameSummary is one lobby listing entry.
type GameSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DMName      string `json:"dm_name"`
	Status      string `json:"status"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	// AcceptingPlayers is true when the game has room and is not
	// completed/cancelled. Games can accept players even after
	// starting — DMs can begin with banter and context while waiting
	// for more players.
	AcceptingPlayers    bool       `json:"accepting_players"`
	VoteCount           int        `json:"vote_count"`
	PollIntervalSeconds int        `json:"poll_interval_seconds"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
}

// GameDetail is the full lobby view of one game.
type GameDetail struct {
	GameSummary
	Players     []PlayerInfo     `json:"players"`
	Config      store.GameConfig `json:"config"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ListOptions filters and pages the lobby listing.
type ListOptions struct {
	// Status filters to one lifecycle status when non-empty.
	Status string
	// Sort is "newest" (default) or "top" (by vote count).
	Sort string
	// Limit enables pagination when positive.
	Limit  int
	Offset int
}

var validStatuses = map[string]bool{
	store.GameStatusOpen:       true,
	store.GameStatusInProgress: true,
	store.GameStatusCompleted:  true,
	store.GameStatusCancelled:  true,
}

// failedGameFilter hides closed games that never saw a user-posted
// message: abandoned creations, not finished stories.
const failedGameFilter = `NOT (games.status IN ('completed', 'cancelled')
	AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.game_id = games.id AND m.agent_id IS NOT NULL))`

// List returns lobby summaries plus the unpaginated total.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]GameSummary, int64, error) {
	if opts.Status != "" && !validStatuses[opts.Status] {
		return nil, 0, apperrors.Newf(apperrors.KindValidation, "invalid status %q", opts.Status)
	}
	switch opts.Sort {
	case "", "newest", "top":
	default:
		return nil, 0, apperrors.Newf(apperrors.KindValidation, "invalid sort %q; valid values: newest, top", opts.Sort)
	}

	filtered := func() *gorm.DB {
		q := r.store.DB.WithContext(ctx).Model(&store.Game{}).Where(failedGameFilter)
		if opts.Status != "" {
			q = q.Where("games.status = ?", opts.Status)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := filtered()
	if opts.Sort == "top" {
		query = query.Order("(SELECT COUNT(*) FROM votes v WHERE v.game_id = games.id) DESC, games.created_at DESC")
	} else {
		query = query.Order("games.created_at DESC")
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit).Offset(opts.Offset)
	}

	var games []store.Game
	if err := query.Find(&games).Error; err != nil {
		return nil, 0, err
	}
	if len(games) == 0 {
		return []GameSummary{}, total, nil
	}

	gameIDs := make([]string, len(games))
	dmIDs := make([]string, len(games))
	for i, g := range games {
		gameIDs[i] = g.ID
		dmIDs[i] = g.DMID
	}

	dmNames := make(map[string]string)
	var dms []store.Agent
	if err := r.store.DB.WithContext(ctx).Where("id IN ?", dmIDs).Find(&dms).Error; err != nil {
		return nil, 0, err
	}
	for _, a := range dms {
		dmNames[a.ID] = a.Name
	}

	type countRow struct {
		GameID string
		Cnt    int
	}
	playerCounts := make(map[string]int)
	var pcRows []countRow
	if err := r.store.DB.WithContext(ctx).Model(&store.Player{}).
		Select("game_id, COUNT(*) AS cnt").
		Where("game_id IN ? AND status = ? AND role != ?", gameIDs, store.PlayerStatusActive, store.RoleDM).
		Group("game_id").
		Scan(&pcRows).Error; err != nil {
		return nil, 0, err
	}
	for _, row := range pcRows {
		playerCounts[row.GameID] = row.Cnt
	}

	voteCounts := make(map[string]int)
	var vcRows []countRow
	if err := r.store.DB.WithContext(ctx).Model(&store.Vote{}).
		Select("game_id, COUNT(*) AS cnt").
		Where("game_id IN ?", gameIDs).
		Group("game_id").
		Scan(&vcRows).Error; err != nil {
		return nil, 0, err
	}
	for _, row := range vcRows {
		voteCounts[row.GameID] = row.Cnt
	}

	summaries := make([]GameSummary, len(games))
	for i := range games {
		g := &games[i]
		summaries[i] = summarize(g, dmNames[g.DMID], playerCounts[g.ID], voteCounts[g.ID])
	}
	return summaries, total, nil
}

// Detail returns the full lobby view of one game, roster included.
func (r *Registry) Detail(ctx context.Context, gameID string) (*GameDetail, error) {
	game, err := r.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}

	var dm store.Agent
	if err := r.store.DB.WithContext(ctx).Where("id = ?", game.DMID).First(&dm).Error; err != nil {
		return nil, err
	}
	players, err := r.Roster(ctx, gameID)
	if err != nil {
		return nil, err
	}
	voteCount, err := r.VoteCount(ctx, gameID)
	if err != nil {
		return nil, err
	}

	active := 0
	for _, p := range players {
		if p.Status == store.PlayerStatusActive && p.Role != store.RoleDM {
			active++
		}
	}
	detail := &GameDetail{
		GameSummary: summarize(game, dm.Name, active, voteCount),
		Players:     players,
		Config:      game.Config,
		CompletedAt: game.CompletedAt,
	}
	return detail, nil
}

func summarize(game *store.Game, dmName string, playerCount, voteCount int) GameSummary {
	accepting := (game.Status == store.GameStatusOpen || game.Status == store.GameStatusInProgress) &&
		playerCount < game.Config.MaxPlayers
	return GameSummary{
		ID:                  game.ID,
		Name:                game.Name,
		Description:         game.Description,
		DMName:              dmName,
		Status:              game.Status,
		PlayerCount:         playerCount,
		MaxPlayers:          game.Config.MaxPlayers,
		AcceptingPlayers:    accepting,
		VoteCount:           voteCount,
		PollIntervalSeconds: game.Config.PollIntervalSeconds,
		CreatedAt:           game.CreatedAt,
		StartedAt:           game.StartedAt,
	}
}

// ToggleVote flips the caller's vote for a game and returns the new
// state and total.
func (r *Registry) ToggleVote(ctx context.Context, gameID string, agent *store.Agent) (bool, int, error) {
	if _, err := r.Get(ctx, gameID); err != nil {
		return false, 0, err
	}

	voted := false
	res := r.store.DB.WithContext(ctx).
		Where("game_id = ? AND agent_id = ?", gameID, agent.ID).
		Delete(&store.Vote{})
	if res.Error != nil {
		return false, 0, res.Error
	}
	if res.RowsAffected == 0 {
		vote := &store.Vote{GameID: gameID, AgentID: agent.ID, CreatedAt: time.Now().UTC()}
		if err := r.store.DB.WithContext(ctx).Create(vote).Error; err != nil {
			return false, 0, err
		}
		voted = true
	}

	count, err := r.VoteCount(ctx, gameID)
	return voted, count, err
}

// VoteCount returns the number of votes a game has received.
func (r *Registry) VoteCount(ctx context.Context, gameID string) (int, error) {
	var count int64
	err := r.store.DB.WithContext(ctx).Model(&store.Vote{}).
		Where("game_id = ?", gameID).Count(&count).Error
	return int(count), err
}

// GameCounts breaks lobby games down by lifecycle status.
type GameCounts struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// ActivityStats counts agents in a role, total and recently active.
type ActivityStats struct {
	ActiveLastWeek int `json:"active_last_week"`
	Total          int `json:"total"`
}

// LobbyStats is the aggregate lobby view.
type LobbyStats struct {
	Games   GameCounts    `json:"games"`
	Players ActivityStats `json:"players"`
	DMs     ActivityStats `json:"dms"`
}

const statsTTL = 60 * time.Second

// Stats returns aggregate lobby statistics with a 60-second in-memory
// cache; the queries scan several tables and the lobby polls often.
func (r *Registry) Stats(ctx context.Context) (*LobbyStats, error) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if r.statsCache != nil && time.Since(r.statsAt) < statsTTL {
		return r.statsCache, nil
	}

	stats := &LobbyStats{}

	var statusRows []struct {
		Status string
		Cnt    int
	}
	if err := r.store.DB.WithContext(ctx).Model(&store.Game{}).
		Select("games.status, COUNT(*) AS cnt").
		Where(failedGameFilter).
		Group("games.status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		switch row.Status {
		case store.GameStatusOpen:
			stats.Games.Open = row.Cnt
		case store.GameStatusInProgress:
			stats.Games.InProgress = row.Cnt
		case store.GameStatusCompleted:
			stats.Games.Completed = row.Cnt
		}
	}

	var roleRows []struct {
		Role string
		Cnt  int
	}
	if err := r.store.DB.WithContext(ctx).Model(&store.Player{}).
		Select("role, COUNT(DISTINCT agent_id) AS cnt").
		Group("role").
		Scan(&roleRows).Error; err != nil {
		return nil, err
	}
	for _, row := range roleRows {
		switch row.Role {
		case store.RolePlayer:
			stats.Players.Total = row.Cnt
		case store.RoleDM:
			stats.DMs.Total = row.Cnt
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -7)
	var activeRows []struct {
		Role string
		Cnt  int
	}
	if err := r.store.DB.WithContext(ctx).Model(&store.Player{}).
		Select("players.role, COUNT(DISTINCT players.agent_id) AS cnt").
		Joins("JOIN messages ON messages.agent_id = players.agent_id AND messages.game_id = players.game_id").
		Where("messages.created_at >= ?", cutoff).
		Group("players.role").
		Scan(&activeRows).Error; err != nil {
		return nil, err
	}
	for _, row := range activeRows {
		switch row.Role {
		case store.RolePlayer:
			stats.Players.ActiveLastWeek = row.Cnt
		case store.RoleDM:
			stats.DMs.ActiveLastWeek = row.Cnt
		}
	}

	r.statsCache = stats
	r.statsAt = time.Now()
	return stats, nil
}
