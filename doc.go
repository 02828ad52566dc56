// Package simigo provides an image similarity service for Go.
//
// Simigo fetches an image by URL, derives a feature vector from it and
// ranks it against a store of known images. Matches are returned with a
// request ID; confirming the request persists the fetched image and
// makes it matchable immediately.
//
// # Quick Start
//
//	ctx := context.Background()
//	images, _ := imagestore.NewLocalStore("./images")
//	extractor, _ := feature.NewHistogramExtractor()
//	finder, _ := simigo.New(images, extractor)
//
//	_ = finder.RefreshStore(ctx)
//
//	res, _ := finder.Find(ctx, "https://example.com/cat.png")
//	for _, m := range res.Results {
//		fmt.Println(m.URL, m.Similarity)
//	}
//
//	saved, _ := finder.Save(ctx, res.RequestID)
//	fmt.Println(saved.URL)
//
// # Background Jobs
//
// Pending requests expire after a TTL and the feature store is
// reconciled against the image store periodically. The Scheduler runs
// both jobs:
//
//	sched := simigo.NewScheduler(finder)
//	sched.Start()
//	defer sched.Close()
//
// # Storage Backends
//
// Images live behind the imagestore.Store interface. A local directory
// backend and an S3-compatible MinIO backend ship with the package:
//
//	images := imagestore.NewMinioStore(client, "bucket", "images/")
//
// Derived vectors can be cached on disk between refreshes with
// store.NewCache, so a restart does not re-extract every image.
package simigo
