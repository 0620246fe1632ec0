package models

import "time"

// RuleType tags an achievement with the statistics rule that unlocks it.
type RuleType string

const (
	RuleFirstTransfer RuleType = "first_transfer"
	RuleTransfers10   RuleType = "transfers_10"
	RuleTransfers50   RuleType = "transfers_50"
	RuleTransfers100  RuleType = "transfers_100"

	RuleFirstReceived RuleType = "first_received"
	RuleReceived10    RuleType = "received_10"
	RuleReceived50    RuleType = "received_50"
	RuleReceived100   RuleType = "received_100"

	RuleFirstGoal RuleType = "first_goal"
	RuleGoals10   RuleType = "goals_10"
	RuleGoals50   RuleType = "goals_50"
	RuleGoals100  RuleType = "goals_100"

	RuleCoins100  RuleType = "coins_100"
	RuleCoins500  RuleType = "coins_500"
	RuleCoins1000 RuleType = "coins_1000"
	RuleCoins5000 RuleType = "coins_5000"

	RuleStreak7   RuleType = "login_streak_7"
	RuleStreak30  RuleType = "login_streak_30"
	RuleStreak100 RuleType = "login_streak_100"

	RuleProfilePhoto RuleType = "profile_photo"

	RuleBalanced RuleType = "balanced"
	RuleSocial   RuleType = "social"
)

// Achievement is immutable catalog reference data.
type Achievement struct {
	ID          int32     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rule        RuleType  `json:"rule"`
	Category    string    `json:"category"`
	Icon        string    `json:"icon"`
	CreatedAt   time.Time `json:"created_at"`
}

// AchievementGrant records when a user earned an achievement.
type AchievementGrant struct {
	AchievementID int32     `json:"achievement_id"`
	GrantedAt     time.Time `json:"granted_at"`
}

// DefaultAchievements is the stock catalog seeded on startup.
func DefaultAchievements() []Achievement {
	return []Achievement{
		{Name: "First Step", Description: "Sent your first coin transfer", Rule: RuleFirstTransfer, Category: "Transfers", Icon: "🚀"},
		{Name: "Generous Distributor", Description: "Sent 10 coin transfers", Rule: RuleTransfers10, Category: "Transfers", Icon: "💸"},
		{Name: "Transfer Master", Description: "Sent 50 coin transfers", Rule: RuleTransfers50, Category: "Transfers", Icon: "🏆"},
		{Name: "Transfer Legend", Description: "Sent 100 coin transfers", Rule: RuleTransfers100, Category: "Transfers", Icon: "👑"},

		{Name: "First Reception", Description: "Received your first coin transfer", Rule: RuleFirstReceived, Category: "Receipts", Icon: "📥"},
		{Name: "Popular Receiver", Description: "Received 10 coin transfers", Rule: RuleReceived10, Category: "Receipts", Icon: "🎁"},
		{Name: "Coin Magnet", Description: "Received 50 coin transfers", Rule: RuleReceived50, Category: "Receipts", Icon: "🧲"},
		{Name: "Campus Celebrity", Description: "Received 100 coin transfers", Rule: RuleReceived100, Category: "Receipts", Icon: "⭐"},

		{Name: "First Achievement", Description: "Completed your first goal", Rule: RuleFirstGoal, Category: "Goals", Icon: "✅"},
		{Name: "Persistent", Description: "Completed 10 goals", Rule: RuleGoals10, Category: "Goals", Icon: "🎯"},
		{Name: "Goal Master", Description: "Completed 50 goals", Rule: RuleGoals50, Category: "Goals", Icon: "🎖️"},
		{Name: "Goal Legend", Description: "Completed 100 goals", Rule: RuleGoals100, Category: "Goals", Icon: "🏅"},

		{Name: "Starting Saver", Description: "Earned 100 coins", Rule: RuleCoins100, Category: "Coins", Icon: "🪙"},
		{Name: "Investor", Description: "Earned 500 coins", Rule: RuleCoins500, Category: "Coins", Icon: "💎"},
		{Name: "Millionaire", Description: "Earned 1000 coins", Rule: RuleCoins1000, Category: "Coins", Icon: "💰"},
		{Name: "Billionaire", Description: "Earned 5000 coins", Rule: RuleCoins5000, Category: "Coins", Icon: "💎"},

		{Name: "Regular", Description: "Logged in 7 days in a row", Rule: RuleStreak7, Category: "Frequency", Icon: "📅"},
		{Name: "Dedicated", Description: "Logged in 30 days in a row", Rule: RuleStreak30, Category: "Frequency", Icon: "🔥"},
		{Name: "Unstoppable", Description: "Logged in 100 days in a row", Rule: RuleStreak100, Category: "Frequency", Icon: "⚡"},

		{Name: "Picture Perfect", Description: "Added a profile photo", Rule: RuleProfilePhoto, Category: "Profile", Icon: "📸"},

		{Name: "Balanced", Description: "Sent and received 10 transfers each", Rule: RuleBalanced, Category: "Balance", Icon: "⚖️"},
		{Name: "Social", Description: "Sent and received 5 transfers each", Rule: RuleSocial, Category: "Balance", Icon: "🤝"},
	}
}
