// Package model defines core types shared across baggo components.
//
// # Identity Types
//
//   - BagID: stable surrogate key of an ingested bag (int64, store-assigned)
//
// # Data Types
//
//   - BagRecord: persisted metadata of one bag file
//   - TopicCount: per-topic message tally
//   - ReplaySession: record of one open-loop replay invocation
//   - SessionStatus: replay session state machine
package model
