package crm

import "fmt"

// ListQuery builds a connection query returning nodes plus page info.
func ListQuery(root, filterType, fields string) string {
	return fmt.Sprintf(`query %[1]s($first: Int!, $after: String, $filter: %[2]s) {
  %[1]s(first: $first, after: $after, filter: $filter) {
    nodes { id updatedAt %[3]s }
    pageInfo { endCursor hasNextPage }
  }
}`, root, filterType, fields)
}

// UpsertMutation builds an upsert keyed by the remote id; a null id creates.
func UpsertMutation(root, inputType string) string {
	return fmt.Sprintf(`mutation %[1]s($id: ID, $input: %[2]s!) {
  %[1]s(id: $id, input: $input) {
    record { id updatedAt }
    userErrors { field message }
  }
}`, root, inputType)
}

const resolveURLQuery = `query resolveUrl($url: String!) {
  resolveUrl(url: $url) { __typename id }
}`

const createWebhookMutation = `mutation webhookSubscriptionCreate($input: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(input: $input) {
    record { id updatedAt }
    userErrors { field message }
  }
}`

const updateWebhookSecretMutation = `mutation webhookSubscriptionUpdate($id: ID!, $input: WebhookSubscriptionUpdateInput!) {
  webhookSubscriptionUpdate(id: $id, input: $input) {
    record { id updatedAt }
    userErrors { field message }
  }
}`
