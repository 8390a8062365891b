package tools

import "github.com/cloudwego/eino/schema"

const (
	GetProductsByCategory        = "get_products_by_category"
	SuggestProductsByKeyword     = "suggest_products_by_keyword"
	SuggestProductsByDescription = "suggest_products_by_description"
	GetCategories                = "get_categories"
	GetNewestProducts            = "get_newest_products"
	GetAllProducts               = "get_all_products"
	AddToCartByName              = "add_to_cart_by_name"
	RemoveFromCartByName         = "remove_from_cart_by_name"
	GetCart                      = "get_cart"
	ClearCart                    = "clear_cart"
)

// Definitions returns the tool declarations offered to the model.
func Definitions() []*schema.ToolInfo {
	conversationParam := &schema.ParameterInfo{
		Type: schema.String,
		Desc: "Conversation id of the customer. Optional, defaults to the current conversation.",
	}
	productNameParams := map[string]*schema.ParameterInfo{
		"productName": {
			Type:     schema.String,
			Desc:     "Full or partial product name as the customer said it",
			Required: true,
		},
		"conversationId": conversationParam,
	}

	return []*schema.ToolInfo{
		{
			Name: GetProductsByCategory,
			Desc: "Returns the products of one category. Category names are matched case-insensitively.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"category": {
					Type:     schema.String,
					Desc:     "Category taken from the customer's request",
					Required: true,
				},
			}),
		},
		{
			Name: SuggestProductsByKeyword,
			Desc: "Suggests products whose name or category contains the given keywords.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"keywords": {
					Type:     schema.String,
					Desc:     "Keyword or short phrase to look for",
					Required: true,
				},
			}),
		},
		{
			Name: SuggestProductsByDescription,
			Desc: "Suggests products that fit a free-text description of what the customer needs, " +
				"for example an occasion, a use or a feature. Best matches come first.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"description": {
					Type:     schema.String,
					Desc:     "What the customer is looking for, in their own words",
					Required: true,
				},
			}),
		},
		{
			Name: GetCategories,
			Desc: "Lists every product category available in the shop.",
		},
		{
			Name: GetNewestProducts,
			Desc: "Returns the most recently added products, newest first.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"count": {
					Type: schema.Integer,
					Desc: "How many products to return, default 3",
				},
			}),
		},
		{
			Name: GetAllProducts,
			Desc: "Returns the whole catalog so you can choose products for an occasion or scenario " +
				"the customer describes, such as a date, a wedding, a job interview, a gift or a holiday.",
		},
		{
			Name:        AddToCartByName,
			Desc:        "Adds one unit of the product matching the given name to the customer's cart.",
			ParamsOneOf: schema.NewParamsOneOfByParams(productNameParams),
		},
		{
			Name:        RemoveFromCartByName,
			Desc:        "Removes the cart line matching the given name, whatever its quantity.",
			ParamsOneOf: schema.NewParamsOneOfByParams(productNameParams),
		},
		{
			Name: GetCart,
			Desc: "Returns the customer's current cart with quantities and total.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"conversationId": conversationParam,
			}),
		},
		{
			Name: ClearCart,
			Desc: "Empties the customer's cart completely.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"conversationId": conversationParam,
			}),
		},
	}
}
