package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is an equality test on a document path such as "/LastName" or
// "/Address/State".
type Condition struct {
	Path  string
	Value any
}

// QueryDefinition selects the documents matching every condition.
type QueryDefinition struct {
	Conditions []Condition

	// PageSize caps the number of documents evaluated per page.
	// Zero lets the service choose.
	PageSize int32
}

// Where starts a query with one equality condition.
func Where(path string, value any) QueryDefinition {
	return QueryDefinition{Conditions: []Condition{{Path: path, Value: value}}}
}

// And adds an equality condition.
func (q QueryDefinition) And(path string, value any) QueryDefinition {
	conds := make([]Condition, len(q.Conditions), len(q.Conditions)+1)
	copy(conds, q.Conditions)
	q.Conditions = append(conds, Condition{Path: path, Value: value})
	return q
}

// String renders the query in the SQL dialect document databases use,
// e.g. SELECT * FROM c WHERE c.LastName = 'Adamski'.
func (q QueryDefinition) String() string {
	if len(q.Conditions) == 0 {
		return "SELECT * FROM c"
	}
	clauses := make([]string, 0, len(q.Conditions))
	for _, cond := range q.Conditions {
		clauses = append(clauses, fmt.Sprintf("c.%s = %s",
			strings.Join(pathSegments(cond.Path), "."), literal(cond.Value)))
	}
	return "SELECT * FROM c WHERE " + strings.Join(clauses, " AND ")
}

func literal(v any) string {
	switch v := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

func pathSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// QueryPage is one page of query results.
type QueryPage struct {
	// Items are the raw documents of the page.
	Items []map[string]types.AttributeValue

	// RequestCharge is the capacity consumed by the page.
	RequestCharge float64
}

// Unmarshal decodes the page's documents into out, a pointer to a slice.
func (p *QueryPage) Unmarshal(out any) error {
	if err := attributevalue.UnmarshalListOfMapsWithOptions(p.Items, out, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	}); err != nil {
		return fmt.Errorf("unmarshal page: %w", err)
	}
	return nil
}

// QueryItemsPager iterates over the pages of a query.
type QueryItemsPager struct {
	container *Container
	query     QueryDefinition

	next func(ctx context.Context) (*QueryPage, error)
	more func() bool
	err  error
}

// NewQueryItemsPager returns a pager over the documents matching q. A
// condition on the partition key path is served by a single-partition Query;
// otherwise every partition is scanned.
func (c *Container) NewQueryItemsPager(q QueryDefinition) *QueryItemsPager {
	return &QueryItemsPager{container: c, query: q}
}

// More reports whether another page may be fetched.
func (p *QueryItemsPager) More() bool {
	if p.err != nil {
		return false
	}
	if p.more == nil {
		return true
	}
	return p.more()
}

// NextPage fetches the next page.
func (p *QueryItemsPager) NextPage(ctx context.Context) (*QueryPage, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.next == nil {
		if err := p.init(ctx); err != nil {
			p.err = err
			return nil, err
		}
	}
	page, err := p.next(ctx)
	if err != nil {
		if isResourceNotFound(err) {
			err = fmt.Errorf("container %q: %w", p.container.id, ErrNotFound)
		} else {
			err = fmt.Errorf("query %s: %w", p.query, err)
		}
		p.err = err
		return nil, err
	}

	now := p.container.db.client.now()
	live := page.Items[:0]
	for _, item := range page.Items {
		if !IsExpired(item, now) {
			live = append(live, item)
		}
	}
	page.Items = live
	return page, nil
}

func (p *QueryItemsPager) init(ctx context.Context) error {
	c := p.container
	props, attr, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	plan, err := planQuery(p.query, props.PartitionKeyPath, attr, c.db.client.now().Unix())
	if err != nil {
		return err
	}

	if plan.keyCondition != "" {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(c.table),
			KeyConditionExpression:    aws.String(plan.keyCondition),
			FilterExpression:          aws.String(plan.filter),
			ExpressionAttributeNames:  plan.names,
			ExpressionAttributeValues: plan.values,
			ConsistentRead:            aws.Bool(c.db.client.config.ConsistentReads),
			ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
		}
		if p.query.PageSize > 0 {
			input.Limit = aws.Int32(p.query.PageSize)
		}
		paginator := dynamodb.NewQueryPaginator(c.db.client.api, input)
		p.more = paginator.HasMorePages
		p.next = func(ctx context.Context) (*QueryPage, error) {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			return &QueryPage{Items: out.Items, RequestCharge: requestCharge(out.ConsumedCapacity)}, nil
		}
		return nil
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(c.table),
		FilterExpression:          aws.String(plan.filter),
		ExpressionAttributeNames:  plan.names,
		ExpressionAttributeValues: plan.values,
		ConsistentRead:            aws.Bool(c.db.client.config.ConsistentReads),
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	}
	if p.query.PageSize > 0 {
		input.Limit = aws.Int32(p.query.PageSize)
	}
	paginator := dynamodb.NewScanPaginator(c.db.client.api, input)
	p.more = paginator.HasMorePages
	p.next = func(ctx context.Context) (*QueryPage, error) {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		return &QueryPage{Items: out.Items, RequestCharge: requestCharge(out.ConsumedCapacity)}, nil
	}
	return nil
}

// queryPlan holds the DynamoDB expressions for a QueryDefinition.
// keyCondition is empty when the query must scan.
type queryPlan struct {
	keyCondition string
	filter       string
	names        map[string]string
	values       map[string]types.AttributeValue
}

// planQuery translates q into expressions. The first string equality on the
// partition key path becomes the key condition; the rest, plus the TTL
// filter, become the filter expression.
func planQuery(q QueryDefinition, partitionKeyPath, keyAttr string, now int64) (*queryPlan, error) {
	plan := &queryPlan{
		names:  TTLFilterNames(),
		values: map[string]types.AttributeValue{":now": numberAttr(now)},
	}

	var clauses []string
	nameIdx := 0
	for i, cond := range q.Conditions {
		segs := pathSegments(cond.Path)
		if len(segs) == 0 {
			return nil, fmt.Errorf("query condition %d: empty path", i)
		}

		if plan.keyCondition == "" && "/"+strings.Join(segs, "/") == partitionKeyPath {
			if s, ok := cond.Value.(string); ok {
				plan.names["#pk"] = keyAttr
				plan.values[":pk"] = &types.AttributeValueMemberS{Value: s}
				plan.keyCondition = "#pk = :pk"
				continue
			}
		}

		refs := make([]string, len(segs))
		for j, seg := range segs {
			ref := fmt.Sprintf("#f%d", nameIdx)
			nameIdx++
			plan.names[ref] = seg
			refs[j] = ref
		}
		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return nil, fmt.Errorf("query condition %d: %w", i, err)
		}
		valueRef := fmt.Sprintf(":v%d", i)
		plan.values[valueRef] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", strings.Join(refs, "."), valueRef))
	}

	plan.filter = TTLFilterExpr()
	if len(clauses) > 0 {
		plan.filter = fmt.Sprintf("(%s) AND (%s)", strings.Join(clauses, " AND "), plan.filter)
	}
	return plan, nil
}

// QueryItems runs q, drains every page and decodes the matching documents
// into out, a pointer to a slice.
func (c *Container) QueryItems(ctx context.Context, q QueryDefinition, out any) error {
	if out == nil {
		return errors.New("query items: out is nil")
	}
	var all []map[string]types.AttributeValue
	pager := c.NewQueryItemsPager(q)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		all = append(all, page.Items...)
	}
	page := QueryPage{Items: all}
	return page.Unmarshal(out)
}
