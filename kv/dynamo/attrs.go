package dynamo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sparkboardhq/sparkboard/kv"
)

// toItem converts a key plus attribute map into a DynamoDB item.
func toItem(key kv.Key, attrs kv.Attributes) map[string]types.AttributeValue {
	item := make(map[string]types.AttributeValue, len(attrs)+2)
	item[attrPK] = &types.AttributeValueMemberS{Value: key.PK}
	item[attrSK] = &types.AttributeValueMemberS{Value: key.SK}
	for name, v := range attrs {
		if name == attrPK || name == attrSK {
			continue
		}
		item[name] = toAttr(v)
	}
	return item
}

// keyAttrs builds the composite-key item used to address a record.
func keyAttrs(key kv.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key.PK},
		attrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

// toAttr converts one attribute value. Only the types kv.Attributes allows
// are supported; anything else is stored as its string form.
func toAttr(v any) types.AttributeValue {
	switch val := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: val}
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(val, 10)}
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(val)}
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(val, 'g', -1, 64)}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: val}
	case []byte:
		return &types.AttributeValueMemberB{Value: val}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprintf("%v", val)}
	}
}

// fromItem converts a DynamoDB item back into an attribute map, dropping
// the key attributes.
func fromItem(item map[string]types.AttributeValue) kv.Attributes {
	attrs := make(kv.Attributes, len(item))
	for name, av := range item {
		if name == attrPK || name == attrSK {
			continue
		}
		switch val := av.(type) {
		case *types.AttributeValueMemberS:
			attrs[name] = val.Value
		case *types.AttributeValueMemberN:
			if strings.ContainsAny(val.Value, ".eE") {
				f, _ := strconv.ParseFloat(val.Value, 64)
				attrs[name] = f
			} else {
				n, _ := strconv.ParseInt(val.Value, 10, 64)
				attrs[name] = n
			}
		case *types.AttributeValueMemberBOOL:
			attrs[name] = val.Value
		case *types.AttributeValueMemberB:
			attrs[name] = val.Value
		}
	}
	return attrs
}

// stringAttr extracts a string attribute value.
func stringAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
