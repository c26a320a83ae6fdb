// Package pagination drives the cursor-based fetch loop for crm.company.list.
//
// Bitrix24 returns at most 50 records per call and a "next" offset while more
// pages exist. The cursor for page N+1 is only known after page N, so a
// session is strictly sequential.
//
// Example usage:
//
//	gw, _ := client.New(client.DefaultConfig())
//	driver := pagination.NewDriver(gw, classify.New(classify.Russian(), gw.Timeout()))
//	result, err := driver.Run(ctx, ep, pagination.Limits{MaxRecords: 120})
//
// A session:
//   - Starts with no cursor and follows "next" until it is absent
//   - Stops once MaxRecords are collected, truncating the last page
//   - Never issues more than ceil(MaxRecords/50) requests, whatever the remote returns
//   - Aborts on the first classified error; records gathered before a later
//     page failed are returned as a Partial result
//   - Discards everything when the session budget expires
package pagination
