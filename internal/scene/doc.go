// Package scene owns the shared data model for scene understanding.
//
// Responsibilities: surface-type and level-of-detail enumerations, surface
// geometry (pose and planar quads), scene objects, and the immutable
// snapshots produced by one acquisition cycle.
// Key types: SurfaceType, LevelOfDetail, Object, Snapshot, QuerySettings.
//
// Dependency rule: scene depends on nothing else in this module. The
// acquisition loop (scene/acquire) and the reconciliation store
// (scene/observation) both build on it but never on each other.
//
// Snapshots and objects are values handed between goroutines. Once a
// Snapshot has been published it must be treated as read-only by every
// holder; producers build a fresh value per cycle instead of editing one.
package scene
