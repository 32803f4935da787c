package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// mondayAdapter maps leads onto items of a monday.com board. Everything
// goes through the GraphQL endpoint; the board id is stored on the
// integration.
type mondayAdapter struct {
	base    string
	token   string
	boardID string
	client  *Client
}

func newMondayAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://api.monday.com/v2"
	}
	if s.BoardID == "" {
		return nil, fmt.Errorf("monday integration has no board id")
	}
	return &mondayAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, boardID: s.BoardID, client: c}, nil
}

func (a *mondayAdapter) Provider() Provider { return ProviderMonday }

func (a *mondayAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

// query runs one GraphQL request and decodes data into out.
func (a *mondayAdapter) query(ctx context.Context, q string, vars map[string]interface{}, out interface{}) error {
	body := map[string]interface{}{"query": q}
	if len(vars) > 0 {
		body["variables"] = vars
	}
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := a.client.DoJSON(ctx, ProviderMonday, http.MethodPost, a.base, a.headers(), body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("monday query failed: %s", resp.Errors[0].Message)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode monday response: %w", err)
		}
	}
	return nil
}

func (a *mondayAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var data struct {
		Me struct {
			ID    json.Number `json:"id"`
			Name  string      `json:"name"`
			Email string      `json:"email"`
		} `json:"me"`
	}
	if err := a.query(ctx, `query { me { id name email } }`, nil, &data); err != nil {
		return nil, err
	}
	return &CurrentUser{ID: data.Me.ID.String(), Name: data.Me.Name, Email: data.Me.Email}, nil
}

func (a *mondayAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	name, columns := splitMondayFields(fields)
	columnJSON, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("failed to encode monday column values: %w", err)
	}

	var data struct {
		CreateItem struct {
			ID json.Number `json:"id"`
		} `json:"create_item"`
	}
	q := `mutation ($board: ID!, $name: String!, $columns: JSON) {
		create_item (board_id: $board, item_name: $name, column_values: $columns) { id }
	}`
	vars := map[string]interface{}{
		"board":   a.boardID,
		"name":    name,
		"columns": string(columnJSON),
	}
	if err := a.query(ctx, q, vars, &data); err != nil {
		return "", err
	}
	id := data.CreateItem.ID.String()
	if id == "" {
		return "", fmt.Errorf("monday create returned no item id")
	}
	return id, nil
}

func (a *mondayAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	limit := opts.PerPage
	if limit <= 0 {
		limit = 100
	}

	var data struct {
		Boards []struct {
			ItemsPage struct {
				Items []struct {
					ID           json.Number `json:"id"`
					Name         string      `json:"name"`
					ColumnValues []struct {
						ID   string `json:"id"`
						Text string `json:"text"`
					} `json:"column_values"`
				} `json:"items"`
			} `json:"items_page"`
		} `json:"boards"`
	}
	q := fmt.Sprintf(`query {
		boards (ids: [%s]) {
			items_page (limit: %d) {
				items { id name column_values { id text } }
			}
		}
	}`, a.boardID, limit)
	if err := a.query(ctx, q, nil, &data); err != nil {
		return nil, err
	}

	var records []Record
	for _, board := range data.Boards {
		for _, item := range board.ItemsPage.Items {
			fields := map[string]interface{}{"name": item.Name}
			for _, col := range item.ColumnValues {
				fields[col.ID] = col.Text
			}
			records = append(records, Record{ID: item.ID.String(), Fields: fields})
		}
	}
	return records, nil
}

func (a *mondayAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	_, columns := splitMondayFields(fields)
	columnJSON, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("failed to encode monday column values: %w", err)
	}

	q := `mutation ($board: ID!, $item: ID!, $columns: JSON!) {
		change_multiple_column_values (board_id: $board, item_id: $item, column_values: $columns) { id }
	}`
	vars := map[string]interface{}{
		"board":   a.boardID,
		"item":    id,
		"columns": string(columnJSON),
	}
	return a.query(ctx, q, vars, nil)
}

// splitMondayFields separates the item name from the column values.
func splitMondayFields(fields map[string]interface{}) (string, map[string]interface{}) {
	columns := make(map[string]interface{}, len(fields))
	name := ""
	for k, v := range fields {
		if k == "name" {
			name, _ = v.(string)
			continue
		}
		columns[k] = v
	}
	return name, columns
}
