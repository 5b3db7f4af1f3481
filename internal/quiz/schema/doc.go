// Package schema defines the entities shared by the local cache and the remote
// document store.
//
// # Entities
//
// Two entity families are cached locally:
//
//   - UserProfile: one row per user id (upsert, last write wins)
//   - QuizAttempt: one row per local id, optionally mapped to a remote document
//
// Two are remote only:
//
//   - RankingEntry: per-user running score total, updated inside a transaction
//   - Question: quiz content, read-only from this module
//
// # Remote documents
//
// Remote documents are flat field maps. The field names match the collections
// the mobile client writes:
//
//	users/{uid}                     {"name": "...", "email": "..."}
//	history/{auto-id}               {"userId": "...", "score": 4, "totalQuestions": 5, "timestamp": 1000}
//	ranking/{uid}                   {"userId": "...", "name": "...", "totalScore": 12}
//	quizzes/{quiz}/questions/{id}   {"questionText": "...", "options": [...], "correctAnswer": "..."}
//
// Document() and the *FromDocument functions convert between entities and
// field maps. Local-only fields (local id, sync state) never leave the device.
//
// # Sync states
//
// An attempt starts Pending, is claimed as Syncing while a push is in flight,
// and ends Synced once the remote store has acknowledged it:
//
//	Pending --claim--> Syncing --ack--> Synced
//	   ^                  |
//	   +-----failure------+
package schema
