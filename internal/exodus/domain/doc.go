// Package domain defines the migration-campaign session model: sessions,
// participants, reward tiers, and the reward duration calculus. Types here
// are persistence-agnostic; ledgers and the orchestrator operate on them.
package domain
