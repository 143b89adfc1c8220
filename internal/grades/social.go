package grades

// QualityTier is a coarse content-quality rating used by the social rubrics.
type QualityTier string

const (
	QualityExcellent QualityTier = "Excellent"
	QualityGood      QualityTier = "Good"
	QualityAverage   QualityTier = "Average"
	QualityPoor      QualityTier = "Poor"
	QualityVeryPoor  QualityTier = "Very Poor"
)

// qualityPoints maps a tier to its criterion score out of 20.
// Unknown tiers score 0.
func qualityPoints(q QualityTier) float64 {
	switch q {
	case QualityExcellent:
		return 20
	case QualityGood:
		return 15
	case QualityAverage:
		return 10
	case QualityPoor:
		return 5
	}
	return 0
}

// YouTubeMetrics are the inputs to the YouTube channel rubric.
type YouTubeMetrics struct {
	MeetsWeeklyStreamGoal    bool
	WeeklyStreamCount        float64
	MeetsMinimumDurationGoal bool
	AverageStreamDuration    float64 // minutes
	SubscriberGrowthRate     float64 // percent
	EngagementRate           float64 // percent
	TitleQuality             QualityTier
	ThumbnailQuality         QualityTier
}

// XMetrics are the inputs to the X account rubric.
type XMetrics struct {
	MeetsDailyTweetGoal     bool
	DailyTweetCount         float64
	MeetsWeeklyPlanningGoal bool
	WeeklyPlanningTweets    float64
	FollowerGrowthRate      float64 // percent
	EngagementRate          float64 // percent
	ImpressionGrowthRate    float64 // percent
}

// ladder awards staged partial credit: full 20 points when the goal is met,
// otherwise 15/10/5 at the descending thresholds, 0 below all of them.
func ladder(meetsGoal bool, value, t15, t10 float64) float64 {
	switch {
	case meetsGoal:
		return 20
	case value >= t15:
		return 15
	case value >= t10:
		return 10
	case value > 0:
		return 5
	}
	return 0
}

// percentToGrade applies the fixed score cutoffs: >=90 S, >=80 A, >=70 B,
// >=60 C, else D.
func percentToGrade(pct float64) Grade {
	switch {
	case pct >= 90:
		return GradeS
	case pct >= 80:
		return GradeA
	case pct >= 70:
		return GradeB
	case pct >= 60:
		return GradeC
	}
	return GradeD
}

// YouTubeGrade scores a channel over five 20-point criteria: weekly stream
// frequency (goal: 4/week), average stream duration (goal: 90 minutes),
// subscriber growth, engagement rate, and title/thumbnail quality.
func YouTubeGrade(m YouTubeMetrics) Grade {
	var score float64

	score += ladder(m.MeetsWeeklyStreamGoal, m.WeeklyStreamCount, 3, 2)
	score += ladder(m.MeetsMinimumDurationGoal, m.AverageStreamDuration, 60, 30)
	score += ladder(m.SubscriberGrowthRate >= 10, m.SubscriberGrowthRate, 5, 2)
	score += ladder(m.EngagementRate >= 5, m.EngagementRate, 3, 1)

	// Quality criterion splits its 20 points between title and thumbnail.
	score += qualityPoints(m.TitleQuality) / 2
	score += qualityPoints(m.ThumbnailQuality) / 2

	return percentToGrade(score)
}

// XGrade scores an account over five 20-point criteria: daily tweet
// frequency (goal: 2/day), weekly planning tweets (goal: 2/week), follower
// growth, engagement rate, and impression growth.
func XGrade(m XMetrics) Grade {
	var score float64

	score += ladder(m.MeetsDailyTweetGoal, m.DailyTweetCount, 1.5, 1)
	score += ladder(m.MeetsWeeklyPlanningGoal, m.WeeklyPlanningTweets, 1.5, 1)
	score += ladder(m.FollowerGrowthRate >= 10, m.FollowerGrowthRate, 5, 2)
	score += ladder(m.EngagementRate >= 10, m.EngagementRate, 7, 5)
	score += ladder(m.ImpressionGrowthRate >= 20, m.ImpressionGrowthRate, 10, 5)

	return percentToGrade(score)
}
