// Package crm syncs contacts from the CRM into the local lead store on a
// fixed interval. The poller pages with the CRM's cursor, filters by create
// and modify timestamps since the previous successful pass, and deduplicates
// against leads that already exist under another source.
package crm
