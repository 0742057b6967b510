// Package ranking builds the personalized for-you feed of provider profiles.
//
// Each candidate receives sub-scores in [0,100] (country match, distance,
// quality, freshness, engagement, profile completeness, popularity and
// learned preference). The recommendation score is their weighted sum.
// Candidates are then ordered by the comparator for the request's filter
// mode and passed through a diversity step that favors unseen cities and
// categories near the top of the feed.
//
// Basic usage:
//
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		logger.Warn("using default ranking weights", "error", err)
//	}
//	engine := ranking.NewEngine(ranking.Config{
//		Profiles: store,
//		Events:   store,
//		Geo:      resolver,
//		Weights:  weights,
//	})
//	feed := engine.Recommend(ctx, ranking.Request{ViewerID: userID, Address: clientIP})
//
// Calibration:
//
// Weights are loaded from a JSON file at startup and merged over the
// defaults, so changing them needs a restart but no code change. See
// configs/ranking.calibration.json.
package ranking
