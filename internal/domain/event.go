package domain

const (
	EventNamePostScored         = "post.scored"
	EventNameOfficialPublished  = "official.published"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventPostScored struct {
	Post Post
}

func (EventPostScored) Name() string { return EventNamePostScored }

type EventOfficialPublished struct {
	Official Post
}

func (EventOfficialPublished) Name() string { return EventNameOfficialPublished }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
