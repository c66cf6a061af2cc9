package graph

// Schema - GraphQL-схема сервиса. Парсится при старте, кодогенерация
// не используется.
const Schema = `
	schema {
		query: Query
		mutation: Mutation
	}

	type Query {
		blog(blogId: ID!): Blog
		blogsCreatedBy(userId: ID!): [Blog!]
		user(handle: String!): User
	}

	type Mutation {
		createNewUser(input: NewUserInput!): NewUserPacket!
		createBlog(input: CreateBlogInput!, auth: AuthPacket!): Blog!
		upvoteBlog(blogId: ID!, auth: AuthPacket!): Upvote!
		removeUpvote(blogId: ID!, auth: AuthPacket!): Upvote!
		createComment(blogId: ID!, content: String!, auth: AuthPacket!): Comment!
	}

	type User {
		id: ID!
		handle: String!
		firstName: String
		lastName: String
		age: Int
		country: Country!
		blogs: [Blog!]!
		comments: [Comment!]!
		upvotes: [Upvote!]!
	}

	type Blog {
		id: ID!
		title: String!
		content: String!
		timestamp: String!
		author: User!
		comments: [Comment!]!
		upvotes: [Upvote!]!
	}

	type Comment {
		id: ID!
		content: String!
		commentor: User!
		timestamp: String!
	}

	type Upvote {
		id: ID!
		upvoter: User!
		timestamp: String!
	}

	type NewUserPacket {
		user: User!
		secret: String!
	}

	enum Country {
		INDIA
		USA
		CHINA
		RUSSIA
		EMPTY
	}

	input NewUserInput {
		handle: String!
		firstName: String
		lastName: String
		age: Int
		country: Country
	}

	input CreateBlogInput {
		title: String!
		content: String!
	}

	input AuthPacket {
		handle: String!
		secret: String!
	}
`
